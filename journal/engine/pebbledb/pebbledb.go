// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pebbledb implements engine.Engine on pebble.
package pebbledb

import (
	"errors"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/corylabs/graphfixture/journal/engine"
)

var (
	ErrDbClosed         = errors.New("pebbledb: closed")
	ErrTxClosed         = errors.New("pebbledb: transaction already closed")
	ErrSnapshotReleased = errors.New("pebbledb: snapshot released")
)

const (
	// DefaultCache is the block cache size in MiB.
	DefaultCache = 16

	// DefaultHandles is the open file limit.
	DefaultHandles = 16
)

func options(create bool, cache, handles int) *pebble.Options {
	if cache <= 0 {
		cache = DefaultCache
	}
	if handles <= 0 {
		handles = DefaultHandles
	}

	opts := &pebble.Options{
		Cache:         pebble.NewCache(int64(cache * 1024 * 1024)),
		ErrorIfExists: create,
		MaxOpenFiles:  handles,
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 4 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 8 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
	}
	opts.Experimental.ReadSamplingMultiplier = -1
	return opts
}

// NewDB opens the database at dbPath.  When create is set the database
// must not exist yet.  Non-positive cache and handles select the defaults.
func NewDB(dbPath string, create bool, cache, handles int) (engine.Engine, error) {
	opts := options(create, cache, handles)
	defer opts.Cache.Unref()

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}

// NewMemDB returns an empty database held in memory.
func NewMemDB() (engine.Engine, error) {
	opts := options(true, 0, 0)
	defer opts.Cache.Unref()
	opts.FS = vfs.NewMem()

	db, err := pebble.Open("", opts)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}

// DB is a pebble backed engine.
type DB struct {
	*pebble.DB

	closed atomic.Bool
}

// Ensure DB implements the engine.Engine interface.
var _ engine.Engine = (*DB)(nil)

// setClosed marks the database closed and reports whether it was open.
func (d *DB) setClosed() bool {
	return !d.closed.Swap(true)
}

func (d *DB) isClosed() bool {
	return d.closed.Load()
}

// Transaction opens a write batch.
func (d *DB) Transaction() (engine.Transaction, error) {
	if d.isClosed() {
		return nil, ErrDbClosed
	}
	return &Transaction{Batch: d.DB.NewBatch()}, nil
}

// Snapshot returns a read view of the committed state.
func (d *DB) Snapshot() (engine.Snapshot, error) {
	if d.isClosed() {
		return nil, ErrDbClosed
	}
	return &Snapshot{Snapshot: d.DB.NewSnapshot()}, nil
}

// Close closes the database.  A second call returns ErrDbClosed.
func (d *DB) Close() error {
	if !d.setClosed() {
		return ErrDbClosed
	}
	return d.DB.Close()
}
