// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidate

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/corylabs/graphfixture/utxopool"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		n, chunk       int
		rounds, merges int
	}{
		{1, 100, 1, 1},
		{100, 100, 1, 1},
		{101, 100, 2, 3},
		{10_000, 100, 2, 101},
		{10_001, 100, 3, 104},
		{25, 10, 2, 4},
		{1_000, 10, 3, 111},
	}

	for _, test := range tests {
		rounds, merges := Plan(test.n, test.chunk)
		if rounds != test.rounds || merges != test.merges {
			t.Errorf("Plan(%d, %d) = (%d, %d), want (%d, %d)", test.n,
				test.chunk, rounds, merges, test.rounds, test.merges)
		}

		// Rounds agree with max(1, ceil(log_chunk(n))).
		want := int(math.Ceil(math.Log(float64(test.n))/math.Log(float64(test.chunk)) - 1e-9))
		if want < 1 {
			want = 1
		}
		if rounds != want {
			t.Errorf("Plan(%d, %d) rounds %d, log bound %d", test.n,
				test.chunk, rounds, want)
		}
	}
}

func setUp(t *testing.T, count int) (*harness.Harness, *txbuild.Spender, []fixture.Outpoint) {
	t.Helper()

	node := memnode.New(nil)
	h, err := harness.New(node, harness.DefaultMinerWallet, harness.DefaultGraphWallet)
	require.NoError(t, err)
	require.NoError(t, h.SetUp())

	spender := txbuild.NewSpender(node, h.Graph, nil)
	outs, err := utxopool.NewFunder(h, spender, nil).Fund(count, 100_000)
	require.NoError(t, err)
	return h, spender, outs
}

func TestCompressRounds(t *testing.T) {
	tests := []struct {
		name  string
		count int
		chunk int
	}{
		{"single", 1, txbuild.MaxInputsPerTx},
		{"fits", 40, txbuild.MaxInputsPerTx},
		{"two rounds", 150, txbuild.MaxInputsPerTx},
		{"three rounds small chunk", 120, 10},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h, spender, outs := setUp(t, test.count)
			c := New(spender, h)
			c.chunk = test.chunk

			before := h.BlocksMined()
			res, err := c.Compress(outs)
			require.NoError(t, err)

			rounds, merges := Plan(test.count, test.chunk)
			require.Equal(t, rounds, res.Rounds)
			require.Equal(t, merges, res.Merges)
			require.Equal(t, int64(rounds-1), h.BlocksMined()-before,
				"one block per intermediate round")

			require.Len(t, res.Outputs, 1)
			want := fixture.SumValues(outs) - btcutil.Amount(merges)*txbuild.DefaultFee
			require.Equal(t, want, res.Outputs[0].Value)
			require.LessOrEqual(t, len(res.Inputs), test.chunk)

			raw, err := h.Node.GetRawTransactionVerbose(&res.TxID)
			require.NoError(t, err)
			require.Len(t, raw.Vin, len(res.Inputs))
			for i, in := range res.Inputs {
				require.Equal(t, in.TxID.String(), raw.Vin[i].Txid)
				require.Equal(t, in.Vout, raw.Vin[i].Vout)
			}
			if rounds == 1 {
				require.Equal(t, outs, res.Inputs)
			}
		})
	}
}

func TestCompressNonPositive(t *testing.T) {
	h, spender, _ := setUp(t, 1)
	c := New(spender, h)

	_, err := c.Compress(nil)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrNoInputs))

	dust := []fixture.Outpoint{{Value: 400}, {Value: 500}}
	_, err = c.Compress(dust)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrNonPositiveValue))

	c.chunk = 1
	_, err = c.Compress(dust)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrNonPositiveValue))
}
