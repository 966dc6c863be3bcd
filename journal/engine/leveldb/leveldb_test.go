// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/corylabs/graphfixture/journal/engine"
	"github.com/stretchr/testify/require"
)

func TestSuiteLevelDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		db, err := NewDB(filepath.Join(t.TempDir(), "journal"), true)
		require.NoError(t, err)
		return db
	})
}

func TestSuiteLevelDBMem(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		db, err := NewMemDB()
		require.NoError(t, err)
		return db
	})
}

func TestCreateExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	db, err := NewDB(path, true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewDB(path, true)
	require.Error(t, err)

	db, err = NewDB(path, false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
