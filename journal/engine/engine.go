// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine defines the ordered key/value store the construction
// journal is written to.  Backends live in the leveldb and pebbledb
// subpackages.
package engine

import (
	"github.com/syndtr/goleveldb/leveldb/errors"
)

// Engine is an ordered key/value store with atomic write batches and
// consistent read snapshots.
type Engine interface {
	Transaction() (Transaction, error)
	Snapshot() (Snapshot, error)
	Close() error
}

// Transaction is an atomic write batch.  Nothing is visible to snapshots
// until Commit.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

// Snapshot is a read-only view of the store at the time it was taken.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(*Range) Iterator
	Releaser
}

// Releaser releases the resources held by a snapshot or iterator.  Release
// may be called more than once.
type Releaser interface {
	Release()
}

// Iterator walks the key/value pairs of a Range in key order.
type Iterator interface {
	// First moves the iterator to the first key/value pair and returns
	// whether such pair exists.
	First() bool

	// Last moves the iterator to the last key/value pair and returns
	// whether such pair exists.
	Last() bool

	// Seek moves the iterator to the first key/value pair whose key is
	// greater than or equal to key.
	Seek(key []byte) bool

	// Next moves the iterator to the next key/value pair.  It returns
	// false once the iterator is exhausted.
	Next() bool

	// Prev moves the iterator to the previous key/value pair.
	Prev() bool

	Valid() bool

	// Error returns any accumulated error.  Exhausting all the key/value
	// pairs is not an error.
	Error() error

	// Key returns the key of the current pair, or nil if done.  The
	// returned slice is only valid until the iterator moves.
	Key() []byte

	// Value returns the value of the current pair, or nil if done.  The
	// returned slice is only valid until the iterator moves.
	Value() []byte

	Releaser
}

// ErrIterReleased is returned by Iterator.Error once the iterator has been
// released.
var ErrIterReleased = errors.New("iterator: iterator released")

// Range is a key range.
type Range struct {
	// Start of the key range, included in the range.
	Start []byte

	// Limit of the key range, not included in the range.  A nil Limit
	// extends to the last key.
	Limit []byte
}

// BytesPrefix returns the key range holding every key with prefix.
func BytesPrefix(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return &Range{prefix, limit}
}
