// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuild

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	txid     chainhash.Hash
	replaces *chainhash.Hash
}

type fakeRecorder struct {
	txs []recorded
}

func (r *fakeRecorder) Record(tx *wire.MsgTx, replaces *chainhash.Hash) error {
	r.txs = append(r.txs, recorded{txid: tx.TxHash(), replaces: replaces})
	return nil
}

// setUp returns a matured harness and count graph outpoints of value.
func setUp(t *testing.T, count int, value btcutil.Amount) (*harness.Harness, []fixture.Outpoint) {
	t.Helper()
	return setUpNode(t, memnode.New(nil), count, value)
}

func setUpNode(t *testing.T, node *memnode.Node, count int, value btcutil.Amount) (*harness.Harness, []fixture.Outpoint) {
	t.Helper()

	h, err := harness.New(node, harness.DefaultMinerWallet, harness.DefaultGraphWallet)
	require.NoError(t, err)
	require.NoError(t, h.SetUp())

	addrs := make([]btcutil.Address, 0, count)
	values := make([]btcutil.Amount, 0, count)
	amounts := make(map[btcutil.Address]btcutil.Amount, count)
	for i := 0; i < count; i++ {
		addr, err := h.Graph.NewAddress()
		require.NoError(t, err)
		addrs = append(addrs, addr)
		values = append(values, value)
		amounts[addr] = value
	}
	txid, err := h.Miner.SendMany(amounts)
	require.NoError(t, err)
	require.NoError(t, h.Mine())

	outpoints, err := ResolveOutpoints(node, txid, addrs, values)
	require.NoError(t, err)
	return h, outpoints
}

func TestSpendPreconditions(t *testing.T) {
	h, pool := setUp(t, 2, 100_000)
	rec := &fakeRecorder{}
	s := NewSpender(h.Node, h.Graph, rec)

	many := make([]fixture.Outpoint, MaxInputsPerTx+1)
	for i := range many {
		many[i] = pool[0]
	}
	tooManyValues := make([]btcutil.Amount, MaxOutputsPerTx+1)
	for i := range tooManyValues {
		tooManyValues[i] = 1
	}

	tests := []struct {
		name   string
		inputs []fixture.Outpoint
		values []btcutil.Amount
		code   fixture.ErrorCode
	}{
		{"no inputs", nil, []btcutil.Amount{1000}, fixture.ErrNoInputs},
		{"too many inputs", many, []btcutil.Amount{1000}, fixture.ErrTooManyInputs},
		{"too many outputs", pool, tooManyValues, fixture.ErrTooManyOutputs},
		{"zero fee", pool[:1], []btcutil.Amount{100_000}, fixture.ErrNonPositiveFee},
		{"negative fee", pool[:1], []btcutil.Amount{60_000, 60_000}, fixture.ErrNonPositiveFee},
		{"zero output", pool[:1], []btcutil.Amount{0}, fixture.ErrNonPositiveValue},
	}
	for _, test := range tests {
		_, _, err := s.Spend(test.inputs, test.values)
		require.Error(t, err, test.name)
		require.True(t, fixture.IsErrorCode(err, test.code),
			"%s: got %v", test.name, err)
	}

	// Nothing reached the node.
	require.Zero(t, s.Sent())
	require.Empty(t, rec.txs)
}

func TestSpendResolvesCallerOrder(t *testing.T) {
	h, pool := setUp(t, 2, 1_000_000)
	rec := &fakeRecorder{}
	s := NewSpender(h.Node, h.Graph, rec)

	values := []btcutil.Amount{300_000, 100_000, 500_000, 99_000}
	txid, outs, err := s.Spend(pool, values)
	require.NoError(t, err)
	require.Len(t, outs, len(values))

	raw, err := h.Node.GetRawTransactionVerbose(&txid)
	require.NoError(t, err)
	require.Len(t, raw.Vin, 2)

	seen := make(map[string]struct{})
	for i, out := range outs {
		require.Equal(t, txid, out.TxID)
		require.Equal(t, values[i], out.Value)
		vout := raw.Vout[out.Vout]
		require.Equal(t, values[i].ToBTC(), vout.Value)
		require.Equal(t, out.Address, OutputAddress(&vout, h.Node.Network()))
		seen[out.Address] = struct{}{}
	}
	require.Len(t, seen, len(values), "addresses must be distinct")

	require.Equal(t, 1, s.Sent())
	require.Len(t, rec.txs, 1)
	require.Equal(t, txid, rec.txs[0].txid)
	require.Nil(t, rec.txs[0].replaces)
}

func TestSpendFeeBoundary(t *testing.T) {
	h, pool := setUp(t, 1, 10_000)
	s := NewSpender(h.Node, h.Graph, nil)

	_, _, err := s.Spend(pool, []btcutil.Amount{10_000})
	require.True(t, fixture.IsErrorCode(err, fixture.ErrNonPositiveFee))

	_, outs, err := s.Spend(pool, []btcutil.Amount{4_000, 5_000})
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(9_000), fixture.SumValues(outs))
}

func TestSendOutputsSequenceAndData(t *testing.T) {
	h, pool := setUp(t, 1, 1_000_000)
	rec := &fakeRecorder{}
	s := NewSpender(h.Node, h.Graph, rec)

	outputs := []Output{
		{Value: 400_000},
		{Data: []byte("cory-ui-fixture")},
		{Value: 592_000},
	}
	txid, outs, err := s.SendOutputs(pool, outputs,
		&SendOptions{Sequence: ReplaceableSequence})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	require.Equal(t, btcutil.Amount(400_000), outs[0].Value)
	require.Equal(t, btcutil.Amount(592_000), outs[1].Value)

	raw, err := h.Node.GetRawTransactionVerbose(&txid)
	require.NoError(t, err)
	require.Equal(t, ReplaceableSequence, raw.Vin[0].Sequence)
	require.Equal(t, "nulldata", raw.Vout[1].ScriptPubKey.Type)

	// Replace it, paying a higher fee out of the same input.
	replacement, _, err := s.SendOutputs(pool, []Output{{Value: 975_000}},
		&SendOptions{Sequence: ReplaceableSequence, Replaces: &txid})
	require.NoError(t, err)
	require.Len(t, rec.txs, 2)
	require.Equal(t, replacement, rec.txs[1].txid)
	require.Equal(t, txid, *rec.txs[1].replaces)

	_, err = h.Node.GetRawTransactionVerbose(&txid)
	require.Error(t, err)
}

func TestSpendIncompleteSignature(t *testing.T) {
	h, pool := setUp(t, 1, 1_000_000)

	// The miner wallet does not own graph outputs.
	s := NewSpender(h.Node, h.Miner, nil)
	_, _, err := s.Spend(pool, []btcutil.Amount{999_000})
	require.True(t, fixture.IsErrorCode(err, fixture.ErrIncompleteSignature), err)
}

func TestMarkIssued(t *testing.T) {
	h, _ := setUp(t, 1, 1_000_000)
	s := NewSpender(h.Node, h.Graph, nil)

	addr, err := h.Graph.NewAddress()
	require.NoError(t, err)
	require.NoError(t, s.MarkIssued(addr))
	err = s.MarkIssued(addr)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrAddressReuse))
}

func TestSendOutputsDataValue(t *testing.T) {
	h, pool := setUp(t, 1, 1_000_000)
	rec := &fakeRecorder{}
	s := NewSpender(h.Node, h.Graph, rec)

	// A valued data output would otherwise escape the fee check.
	_, _, err := s.SendOutputs(pool, []Output{
		{Value: 999_000},
		{Value: 5_000, Data: []byte("cory-ui-fixture")},
	}, nil)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrDataOutputValue), err)
	require.Zero(t, s.Sent())
	require.Empty(t, rec.txs)
}

func TestSendOutputsRejectedBroadcast(t *testing.T) {
	h, pool := setUpNode(t, memnode.New(&memnode.Config{RejectReplacements: true}),
		1, 1_000_000)
	rec := &fakeRecorder{}
	s := NewSpender(h.Node, h.Graph, rec)

	original, _, err := s.SendOutputs(pool, []Output{{Value: 995_000}},
		&SendOptions{Sequence: ReplaceableSequence})
	require.NoError(t, err)

	_, _, err = s.SendOutputs(pool, []Output{{Value: 975_000}},
		&SendOptions{Sequence: ReplaceableSequence, Replaces: &original})
	var rejected *BroadcastError
	require.True(t, errors.As(err, &rejected), err)
	require.NotEqual(t, original, rejected.TxID)
	require.Error(t, errors.Unwrap(rejected))

	// Only the original was counted and recorded.
	require.Equal(t, 1, s.Sent())
	require.Len(t, rec.txs, 1)
	_, err = h.Node.GetRawTransactionVerbose(&original)
	require.NoError(t, err)
}

func TestNewSpenderSize(t *testing.T) {
	h, _ := setUp(t, 1, 1_000_000)
	s := NewSpenderSize(h.Node, h.Graph, nil, 3)

	var addrs []btcutil.Address
	for i := 0; i < 3; i++ {
		addr, err := h.Graph.NewAddress()
		require.NoError(t, err)
		require.NoError(t, s.MarkIssued(addr))
		addrs = append(addrs, addr)
	}

	// Every address within capacity is still guarded.
	for _, addr := range addrs {
		err := s.MarkIssued(addr)
		require.True(t, fixture.IsErrorCode(err, fixture.ErrAddressReuse))
	}
}
