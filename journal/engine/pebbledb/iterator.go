// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pebbledb

import (
	"github.com/cockroachdb/pebble"
	"github.com/corylabs/graphfixture/journal/engine"
)

// Iterator adapts a pebble iterator to engine.Iterator.
type Iterator struct {
	*pebble.Iterator
	err      error
	released bool
}

func (i *Iterator) valid() bool {
	return !i.released && i.Iterator.Valid()
}

func (i *Iterator) First() bool {
	return !i.released && i.Iterator.First()
}

func (i *Iterator) Last() bool {
	return !i.released && i.Iterator.Last()
}

func (i *Iterator) Next() bool {
	return !i.released && i.Iterator.Next()
}

func (i *Iterator) Prev() bool {
	return !i.released && i.Iterator.Prev()
}

func (i *Iterator) Seek(key []byte) bool {
	return !i.released && i.Iterator.SeekGE(key)
}

func (i *Iterator) Valid() bool {
	return i.valid()
}

// Key returns nil once the iterator is exhausted.
func (i *Iterator) Key() []byte {
	if !i.valid() {
		return nil
	}
	return i.Iterator.Key()
}

// Value returns nil once the iterator is exhausted.
func (i *Iterator) Value() []byte {
	if !i.valid() {
		return nil
	}
	return i.Iterator.Value()
}

func (i *Iterator) Release() {
	if !i.released {
		i.released = true
		i.Iterator.Close()
	}
}

func (i *Iterator) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.released {
		return engine.ErrIterReleased
	}
	return i.Iterator.Error()
}
