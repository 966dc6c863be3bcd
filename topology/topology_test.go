// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/consolidate"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/corylabs/graphfixture/utxopool"
	"github.com/stretchr/testify/require"
)

// spentSet fails any second spend of an outpoint that is not a declared
// replacement.
type spentSet struct {
	spentBy map[wire.OutPoint]chainhash.Hash
}

func (s *spentSet) Record(tx *wire.MsgTx, replaces *chainhash.Hash) error {
	txid := tx.TxHash()
	for _, in := range tx.TxIn {
		prev, ok := s.spentBy[in.PreviousOutPoint]
		if ok && (replaces == nil || prev != *replaces) {
			return fmt.Errorf("%v spent by %v and %v", in.PreviousOutPoint,
				prev, txid)
		}
		s.spentBy[in.PreviousOutPoint] = txid
	}
	return nil
}

func newEnv(t *testing.T, cfg *memnode.Config, poolSize int) (*Env, *memnode.Node) {
	t.Helper()

	node := memnode.New(cfg)
	h, err := harness.New(node, harness.DefaultMinerWallet, harness.DefaultGraphWallet)
	require.NoError(t, err)
	require.NoError(t, h.SetUp())

	rec := &spentSet{spentBy: make(map[wire.OutPoint]chainhash.Hash)}
	spender := txbuild.NewSpender(node, h.Graph, rec)
	outs, err := utxopool.NewFunder(h, spender, rec).Fund(poolSize,
		utxopool.DefaultSeedValue)
	require.NoError(t, err)

	return &Env{
		Harness:    h,
		Spender:    spender,
		Compressor: consolidate.New(spender, h),
		Pool:       utxopool.New(outs),
	}, node
}

func mustHash(t *testing.T, s string) *chainhash.Hash {
	t.Helper()
	hash, err := chainhash.NewHashFromStr(s)
	require.NoError(t, err)
	return hash
}

// checkGroundTruth asserts that the root and every required node exist on
// the node and that every required edge names the real input at its index.
func checkGroundTruth(t *testing.T, node *memnode.Node, s *fixture.Scenario) {
	t.Helper()

	_, err := node.GetRawTransactionVerbose(mustHash(t, s.RootTxID))
	require.NoError(t, err, "%s root", s.Name)
	for _, txid := range s.RequiredNodes {
		_, err := node.GetRawTransactionVerbose(mustHash(t, txid))
		require.NoError(t, err, "%s node %s", s.Name, txid)
	}
	for _, edge := range s.RequiredEdges {
		raw, err := node.GetRawTransactionVerbose(mustHash(t, edge.SpendingTxID))
		require.NoError(t, err, "%s edge %v", s.Name, edge)
		require.Less(t, int(edge.InputIndex), len(raw.Vin), "%s edge %v",
			s.Name, edge)
		vin := raw.Vin[edge.InputIndex]
		require.Equal(t, edge.FundingTxID, vin.Txid, "%s edge %v", s.Name, edge)
		require.Equal(t, edge.FundingVout, vin.Vout, "%s edge %v", s.Name, edge)
	}
}

func byName(results []Result) map[string]*Result {
	m := make(map[string]*Result, len(results))
	for i := range results {
		m[results[i].Scenario.Name] = &results[i]
	}
	return m
}

func TestFunctionalCatalog(t *testing.T) {
	builders := Functional()
	require.LessOrEqual(t, TotalDraw(builders), FunctionalBudget)

	env, node := newEnv(t, nil, FunctionalBudget)
	results, err := Run(env, builders, nil)
	require.NoError(t, err)
	require.Equal(t, FunctionalBudget-TotalDraw(builders), env.Pool.Len())
	require.Zero(t, node.MempoolSize(), "functional scenarios settle")

	var names []string
	for i := range results {
		s := &results[i].Scenario
		names = append(names, s.Name)
		require.Equal(t, fixture.TierFunctional, s.Tier)
		require.Equal(t, Primary, results[i].Variant)
		checkGroundTruth(t, node, s)
	}
	require.Equal(t, []string{
		"small_chain_3",
		"merge_parent_double_input",
		"wide_frontier_32",
		"node_limit_truncation",
		"edge_limit_truncation",
		"deep_chain_40_full",
		"deep_chain_40_depth_limited",
		"spent_prevout_gap",
	}, names)

	f := fixture.New(fixture.TierFunctional, DefaultStressTarget)
	f.Scenarios = Scenarios(results)
	require.NoError(t, f.Validate())

	m := byName(results)

	// small_chain_3: three distinct hops, each spending the sole output
	// of the previous one.
	small := m["small_chain_3"].Scenario
	require.Equal(t, fixture.Limits{MaxDepth: 6, MaxNodes: 512, MaxEdges: 2048},
		small.Limits)
	require.False(t, small.ExpectTruncated)
	require.Len(t, small.RequiredNodes, 3)
	tx3, tx2, tx1 := small.RequiredNodes[0], small.RequiredNodes[1], small.RequiredNodes[2]
	require.Equal(t, tx3, small.RootTxID)
	require.NotEqual(t, tx1, tx2)
	require.NotEqual(t, tx2, tx3)
	require.Equal(t, []fixture.Edge{
		{SpendingTxID: tx3, InputIndex: 0, FundingTxID: tx2, FundingVout: 0},
		{SpendingTxID: tx2, InputIndex: 0, FundingTxID: tx1, FundingVout: 0},
	}, small.RequiredEdges)
	raw, err := node.GetRawTransactionVerbose(mustHash(t, tx3))
	require.NoError(t, err)
	require.Len(t, raw.Vout, 1)
	require.InDelta(t, 0.99997, raw.Vout[0].Value, 1e-9)

	merge := m["merge_parent_double_input"].Scenario
	require.Len(t, merge.RequiredEdges, 2)
	require.Equal(t, uint32(1), merge.RequiredEdges[1].InputIndex)
	require.Equal(t, merge.RequiredEdges[0].FundingTxID,
		merge.RequiredEdges[1].FundingTxID)

	wide := m["wide_frontier_32"].Scenario
	require.Len(t, wide.RequiredEdges, 2)
	require.Equal(t, uint32(31), wide.RequiredEdges[1].InputIndex)

	for _, name := range []string{"node_limit_truncation", "edge_limit_truncation"} {
		s := m[name].Scenario
		require.Equal(t, wide.RootTxID, s.RootTxID)
		require.True(t, s.ExpectTruncated)
		require.Equal(t, []string{s.RootTxID}, s.RequiredNodes)
		require.Empty(t, s.RequiredEdges)
		require.Equal(t, 1, *s.ExpectedExactNodeCount)
		require.Equal(t, 0, *s.ExpectedExactEdgeCount)
	}
	require.Equal(t, 5, m["node_limit_truncation"].Scenario.Limits.MaxNodes)
	require.Equal(t, 10, m["edge_limit_truncation"].Scenario.Limits.MaxEdges)

	// The deep chain is probed twice: fully and cut short by depth.
	full := m["deep_chain_40_full"].Scenario
	limited := m["deep_chain_40_depth_limited"].Scenario
	require.Equal(t, full.RootTxID, limited.RootTxID)
	require.False(t, full.ExpectTruncated)
	require.True(t, limited.ExpectTruncated)
	require.Len(t, full.RequiredNodes, 3)
	require.Equal(t, []string{limited.RootTxID}, limited.RequiredNodes)
	require.Less(t, limited.Limits.MaxDepth, deepChainLength)
	require.Greater(t, full.Limits.MaxDepth, deepChainLength)

	gap := m["spent_prevout_gap"].Scenario
	require.Zero(t, gap.Limits.MaxDepth)
	require.True(t, gap.ExpectTruncated)
	require.Equal(t, 0, *gap.ExpectedUnresolvedInputCount)
}

func TestManualCatalog(t *testing.T) {
	profile, err := ParseProfile("fast")
	require.NoError(t, err)
	builders := Manual(profile)

	env, node := newEnv(t, nil, TotalDraw(builders))
	results, err := Run(env, builders, nil)
	require.NoError(t, err)
	require.Zero(t, env.Pool.Len())

	// The pending builder runs last and stays unconfirmed.
	last := results[len(results)-1].Scenario
	require.Equal(t, "cpfp_parent_child", last.Name)
	require.Equal(t, 2, node.MempoolSize())
	for _, txid := range last.RequiredNodes {
		require.True(t, node.InMempool(*mustHash(t, txid)))
	}

	m := byName(results)
	for i := range results {
		s := &results[i].Scenario
		require.NotEmpty(t, s.Description, s.Name)
		require.NotEmpty(t, s.RelatedTxIDs, s.Name)
		checkGroundTruth(t, node, s)
	}

	rbf, ok := m["rbf_replacement"]
	require.True(t, ok)
	require.Equal(t, Primary, rbf.Variant)
	require.Equal(t, []string{rbf.Scenario.RootTxID}, rbf.Scenario.LabelTxIDs)
	require.Len(t, rbf.Scenario.RelatedTxIDs, 2)
	_, err = node.GetRawTransactionVerbose(mustHash(t, rbf.Scenario.RelatedTxIDs[0]))
	require.Error(t, err, "replaced transaction is gone")

	opret := m["op_return_payload"].Scenario
	raw, err := node.GetRawTransactionVerbose(mustHash(t, opret.RootTxID))
	require.NoError(t, err)
	require.Len(t, raw.Vout, 2)
	require.Equal(t, "nulldata", raw.Vout[1].ScriptPubKey.Type)

	fanIn := m["fan_in_20"].Scenario
	require.Equal(t, uint32(19), fanIn.RequiredEdges[1].InputIndex)
	raw, err = node.GetRawTransactionVerbose(mustHash(t, m["fan_out_20"].Scenario.RootTxID))
	require.NoError(t, err)
	require.Len(t, raw.Vout, 20)

	diamond := m["diamond_merge"].Scenario
	require.NotEqual(t, diamond.RequiredEdges[0].FundingTxID,
		diamond.RequiredEdges[1].FundingTxID)

	deep := m["deep_chain_52_for_truncation"].Scenario
	require.True(t, deep.ExpectTruncated)
	require.Equal(t, DefaultLimits, deep.Limits)
}

func TestReplacementFallback(t *testing.T) {
	env, node := newEnv(t, &memnode.Config{RejectReplacements: true}, 1)
	builders := []Builder{&recipe{
		name:  "rbf_replacement",
		tier:  fixture.TierFunctional,
		draw:  1,
		build: buildReplacement,
	}}

	results, err := Run(env, builders, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.Equal(t, Fallback, res.Variant)
	require.Contains(t, res.Reason, "sendrawtransaction")
	require.Equal(t, "rbf_original_only", res.Scenario.Name)
	require.Empty(t, res.Scenario.LabelTxIDs)
	require.Zero(t, node.MempoolSize(), "original is confirmed")
	checkGroundTruth(t, node, &res.Scenario)

	raw, err := node.GetRawTransactionVerbose(mustHash(t, res.Scenario.RootTxID))
	require.NoError(t, err)
	require.Equal(t, txbuild.ReplaceableSequence, raw.Vin[0].Sequence)
	require.EqualValues(t, 1, raw.Confirmations)
}

// replacementRecorder fails to record any declared replacement.
type replacementRecorder struct{}

func (replacementRecorder) Record(_ *wire.MsgTx, replaces *chainhash.Hash) error {
	if replaces != nil {
		return errors.New("journal unavailable")
	}
	return nil
}

func TestReplacementFailureAfterBroadcast(t *testing.T) {
	env, node := newEnv(t, nil, 1)
	env.Spender = txbuild.NewSpender(node, env.Harness.Graph,
		replacementRecorder{})
	builders := []Builder{&recipe{
		name:  "rbf_replacement",
		tier:  fixture.TierFunctional,
		draw:  1,
		build: buildReplacement,
	}}

	// The node accepted the replacement, so the original is gone and no
	// fallback scenario may be emitted.
	results, err := Run(env, builders, nil)
	require.Error(t, err)
	require.Nil(t, results)
	require.Contains(t, err.Error(), "journal unavailable")

	var rejected *txbuild.BroadcastError
	require.False(t, errors.As(err, &rejected))
	require.Equal(t, 1, node.MempoolSize(), "replacement is in the mempool")
}

func TestStressCatalog(t *testing.T) {
	const target = 120

	env, node := newEnv(t, nil, SeedBudget(fixture.TierStress, target))
	results, err := Run(env, Stress(target), nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, StressReserve-2, env.Pool.Len())

	m := byName(results)
	for i := range results {
		require.Equal(t, fixture.TierStress, results[i].Scenario.Tier)
		checkGroundTruth(t, node, &results[i].Scenario)
	}

	deep := m["stress_deep_120"].Scenario
	require.Equal(t, fixture.Limits{MaxDepth: 140, MaxNodes: 320, MaxEdges: 340},
		deep.Limits)
	require.Len(t, deep.RequiredNodes, 3)

	// 120 parents take two compression rounds, the final merge spends
	// the two round outputs.
	wide := m["stress_wide_120"].Scenario
	require.Len(t, wide.RequiredEdges, 2)
	require.Equal(t, uint32(1), wide.RequiredEdges[1].InputIndex)

	merge := m["stress_merge_120"].Scenario
	require.Equal(t, target-2+10, merge.Limits.MaxDepth)
	require.Equal(t, uint32(mergeFanout-1), merge.RequiredEdges[1].InputIndex)
	raw, err := node.GetRawTransactionVerbose(mustHash(t, merge.RootTxID))
	require.NoError(t, err)
	require.Len(t, raw.Vin, mergeFanout)
}

func TestRunOrderAndDraw(t *testing.T) {
	var order []string
	fake := func(name string, draw int, pending bool) *recipe {
		return &recipe{
			name:    name,
			tier:    fixture.TierFunctional,
			draw:    draw,
			pending: pending,
			build: func(env *Env) ([]Result, error) {
				order = append(order, name)
				if _, err := env.Pool.TakeN(draw); err != nil {
					return nil, err
				}
				return []Result{primary(fixture.Scenario{Name: name})}, nil
			},
		}
	}
	outs := make([]fixture.Outpoint, 4)
	for i := range outs {
		outs[i] = fixture.Outpoint{TxID: chainhash.Hash{byte(i + 1)}}
	}
	env := &Env{Pool: utxopool.New(outs)}

	builders := []Builder{
		fake("a", 1, false),
		fake("pending", 1, true),
		fake("b", 2, false),
	}
	results, err := Run(env, builders, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "pending"}, order)
	require.Len(t, results, 3)
	require.Equal(t, fixture.TierFunctional, results[2].Scenario.Tier)

	// The whole draw is checked before anything is built.
	order = nil
	env.Pool = utxopool.New(outs[:2])
	_, err = Run(env, builders, nil)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrPoolExhausted))
	require.Empty(t, order)

	// A builder drawing more than it declared is caught.
	env.Pool = utxopool.New(outs)
	liar := fake("liar", 2, false)
	liar.draw = 1
	_, err = Run(env, []Builder{liar}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "liar")

	// Errors are wrapped with the scenario name.
	env.Pool = utxopool.New(outs)
	failing := &recipe{name: "broken", build: func(*Env) ([]Result, error) {
		return nil, fixture.NewError(fixture.ErrNoInputs, "boom")
	}}
	_, err = Run(env, []Builder{failing}, nil)
	require.True(t, fixture.IsErrorCode(err, fixture.ErrNoInputs))
	require.Contains(t, err.Error(), "scenario broken")

	// A closed interrupt channel stops the run before the next builder.
	order = nil
	interrupt := make(chan struct{})
	close(interrupt)
	_, err = Run(env, builders[:1], interrupt)
	require.True(t, errors.Is(err, ErrInterrupted))
	require.Empty(t, order)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(" Rich ")
	require.NoError(t, err)
	require.Equal(t, Profile{Name: "rich", Fan: 40, Equal: 10, LongDepth: 80}, p)

	_, err = ParseProfile("huge")
	require.Error(t, err)
	require.Contains(t, err.Error(), "balanced, fast, rich")
}

func TestSeedBudget(t *testing.T) {
	require.Equal(t, 56, SeedBudget(fixture.TierFunctional, 500))
	require.Equal(t, 524, SeedBudget(fixture.TierStress, 500))
	require.Equal(t, 580, SeedBudget(fixture.TierAll, 500))
	require.GreaterOrEqual(t, SeedBudget(fixture.TierStress, 30),
		TotalDraw(Stress(30)))
}

func TestVariantStringer(t *testing.T) {
	tests := []struct {
		in   Variant
		want string
	}{
		{Primary, "primary"},
		{Fallback, "fallback"},
		{0xff, "Unknown Variant (255)"},
	}
	for _, test := range tests {
		require.Equal(t, test.want, test.in.String())
	}
}
