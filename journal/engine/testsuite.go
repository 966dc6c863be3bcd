// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSuiteEngine runs the conformance tests every Engine backend must
// pass.  newEngine must return an empty engine on every call.
func TestSuiteEngine(t *testing.T, newEngine func() Engine) {
	t.Run("CommitVisibility", func(t *testing.T) {
		e := newEngine()
		defer e.Close()

		tx, err := e.Transaction()
		require.NoError(t, err)
		key, value := []byte("tx/aa"), []byte(`{"txid":"aa"}`)
		require.NoError(t, tx.Put(key, value))

		// Uncommitted writes are invisible.
		snap, err := e.Snapshot()
		require.NoError(t, err)
		has, err := snap.Has(key)
		require.NoError(t, err)
		require.False(t, has)
		got, err := snap.Get(key)
		require.Error(t, err)
		require.Nil(t, got)
		snap.Release()

		require.NoError(t, tx.Commit())

		snap, err = e.Snapshot()
		require.NoError(t, err)
		got, err = snap.Get(key)
		require.NoError(t, err)
		require.Equal(t, value, got)
		snap.Release()
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		e := newEngine()
		defer e.Close()

		put(t, e, map[string]string{"spent/a:0": "old"})
		snap, err := e.Snapshot()
		require.NoError(t, err)
		defer snap.Release()

		put(t, e, map[string]string{"spent/a:0": "new"})
		got, err := snap.Get([]byte("spent/a:0"))
		require.NoError(t, err)
		require.Equal(t, []byte("old"), got)
	})

	t.Run("Delete", func(t *testing.T) {
		e := newEngine()
		defer e.Close()

		put(t, e, map[string]string{"k1": "v1", "k2": "v2"})
		tx, err := e.Transaction()
		require.NoError(t, err)
		require.NoError(t, tx.Delete([]byte("k1")))
		require.NoError(t, tx.Commit())

		snap, err := e.Snapshot()
		require.NoError(t, err)
		defer snap.Release()
		has, err := snap.Has([]byte("k1"))
		require.NoError(t, err)
		require.False(t, has)
		has, err = snap.Has([]byte("k2"))
		require.NoError(t, err)
		require.True(t, has)
	})

	t.Run("RangeIterator", func(t *testing.T) {
		kvs := map[string]string{
			"spent/a:0": "x", "spent/a:1": "y", "tx/a": "1", "tx/b": "2",
			"tx/c": "3", "txx": "4",
		}
		tests := []struct {
			rng  *Range
			want [][2]string
		}{
			{&Range{Start: []byte("a"), Limit: []byte("b")}, nil},
			{&Range{Start: []byte("tx/b"), Limit: []byte("tx/b")}, nil},
			{
				&Range{Start: []byte("tx/a"), Limit: []byte("tx/c")},
				[][2]string{{"tx/a", "1"}, {"tx/b", "2"}},
			},
			{
				&Range{Start: []byte("tx/0"), Limit: []byte("tx/bz")},
				[][2]string{{"tx/a", "1"}, {"tx/b", "2"}},
			},
			{
				BytesPrefix([]byte("tx/")),
				[][2]string{{"tx/a", "1"}, {"tx/b", "2"}, {"tx/c", "3"}},
			},
			{
				BytesPrefix([]byte("spent/")),
				[][2]string{{"spent/a:0", "x"}, {"spent/a:1", "y"}},
			},
		}

		for _, test := range tests {
			e := newEngine()
			put(t, e, kvs)

			snap, err := e.Snapshot()
			require.NoError(t, err)
			iter := snap.NewIterator(test.rng)
			var got [][2]string
			for iter.Next() {
				got = append(got, [2]string{string(iter.Key()),
					string(iter.Value())})
			}
			require.NoError(t, iter.Error())
			require.Equal(t, test.want, got, "range %q-%q",
				test.rng.Start, test.rng.Limit)

			iter.Release()
			snap.Release()
			require.NoError(t, e.Close())
		}
	})

	t.Run("Close", func(t *testing.T) {
		e := newEngine()

		tx, err := e.Transaction()
		require.NoError(t, err)
		tx.Discard()
		tx.Discard()
		require.Error(t, tx.Commit(), "commit after discard")

		snap, err := e.Snapshot()
		require.NoError(t, err)
		iter := snap.NewIterator(&Range{})
		require.NoError(t, iter.Error())
		iter.Release()
		iter.Release()
		snap.Release()
		snap.Release()
		_, err = snap.Get([]byte("key"))
		require.Error(t, err, "get from released snapshot")

		require.NoError(t, e.Close())
		require.Error(t, e.Close(), "second close")
		_, err = e.Transaction()
		require.Error(t, err)
		_, err = e.Snapshot()
		require.Error(t, err)
	})
}

func put(t *testing.T, e Engine, kvs map[string]string) {
	t.Helper()

	tx, err := e.Transaction()
	require.NoError(t, err)
	for k, v := range kvs {
		require.NoError(t, tx.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, tx.Commit())
}
