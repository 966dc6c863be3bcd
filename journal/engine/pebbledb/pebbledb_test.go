// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pebbledb

import (
	"path/filepath"
	"testing"

	"github.com/corylabs/graphfixture/journal/engine"
	"github.com/stretchr/testify/require"
)

func TestSuitePebbleDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		db, err := NewDB(filepath.Join(t.TempDir(), "journal"), true, 0, 0)
		require.NoError(t, err)
		return db
	})
}

func TestSuitePebbleDBMem(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		db, err := NewMemDB()
		require.NoError(t, err)
		return db
	})
}

func TestTransactionClosed(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	require.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), ErrTxClosed)
}
