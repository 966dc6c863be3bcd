// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxopool

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	n int
}

func (r *countingRecorder) Record(*wire.MsgTx, *chainhash.Hash) error {
	r.n++
	return nil
}

func TestFundBatches(t *testing.T) {
	node := memnode.New(nil)
	h, err := harness.New(node, harness.DefaultMinerWallet, harness.DefaultGraphWallet)
	require.NoError(t, err)
	require.NoError(t, h.SetUp())

	rec := &countingRecorder{}
	spender := txbuild.NewSpender(node, h.Graph, rec)
	funder := NewFunder(h, spender, rec)

	before := h.BlocksMined()
	outs, err := funder.Fund(BatchSize*2+5, DefaultSeedValue)
	require.NoError(t, err)
	require.Len(t, outs, BatchSize*2+5)

	// One confirmation block per batch.
	require.Equal(t, int64(3), h.BlocksMined()-before)
	require.Equal(t, 3, rec.n)
	require.Zero(t, node.MempoolSize())

	seen := make(map[wire.OutPoint]struct{}, len(outs))
	for i, op := range outs {
		require.Equal(t, DefaultSeedValue, op.Value)
		require.NotEmpty(t, op.Address)
		seen[op.OutPoint()] = struct{}{}

		raw, err := node.GetRawTransactionVerbose(&op.TxID)
		require.NoError(t, err)
		// Each batch confirms in its own block, so earlier batches are
		// buried under the later ones.
		require.Equal(t, uint64(3-i/BatchSize), raw.Confirmations,
			"outpoint %d", i)
		require.Equal(t, op.Address, txbuild.OutputAddress(&raw.Vout[op.Vout],
			node.Network()))
	}
	require.Len(t, seen, len(outs))

	// Pool outpoints are spendable by the graph wallet straight away.
	_, _, err = spender.Spend(outs[:3], []btcutil.Amount{DefaultSeedValue*3 - 1000})
	require.NoError(t, err)
}

func TestPoolFIFO(t *testing.T) {
	var outs []fixture.Outpoint
	for i := 0; i < 5; i++ {
		outs = append(outs, fixture.Outpoint{
			TxID:  chainhash.Hash{byte(i + 1)},
			Value: DefaultSeedValue,
		})
	}
	p := New(outs)
	require.Equal(t, 5, p.Len())

	first, err := p.Take()
	require.NoError(t, err)
	require.Equal(t, outs[0], first)

	_, err = p.TakeN(5)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrPoolExhausted))
	require.Equal(t, 4, p.Len(), "a failed draw removes nothing")

	rest, err := p.TakeN(4)
	require.NoError(t, err)
	require.Equal(t, outs[1:], rest)

	_, err = p.Take()
	require.True(t, fixture.IsErrorCode(err, fixture.ErrPoolExhausted))
}

func TestPoolDuplicateOutpoint(t *testing.T) {
	op := fixture.Outpoint{TxID: chainhash.Hash{7}, Vout: 1}
	p := New([]fixture.Outpoint{op, op})

	_, err := p.Take()
	require.NoError(t, err)
	_, err = p.Take()
	require.True(t, fixture.IsErrorCode(err, fixture.ErrDoubleSpend))
}
