// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
)

// FunctionalBudget is the number of pool outpoints funded for the
// functional tier.  It exceeds the catalog draw to leave headroom.
const FunctionalBudget = 56

const (
	wideFrontierWidth = 32
	deepChainLength   = 40
)

// Functional returns the functional tier catalog.
func Functional() []Builder {
	return []Builder{
		&recipe{
			name:  "small_chain_3",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildSmallChain,
		},
		&recipe{
			name:  "merge_parent_double_input",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildMergeParent,
		},
		&recipe{
			name:  "wide_frontier_32",
			tier:  fixture.TierFunctional,
			draw:  wideFrontierWidth,
			build: buildWideFrontier,
		},
		&recipe{
			name:  "deep_chain_40",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildDeepChain,
		},
		&recipe{
			name:  "spent_prevout_gap",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildSpentPrevoutGap,
		},
	}
}

// buildSmallChain builds a three hop linear chain.
func buildSmallChain(env *Env) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, 3, txbuild.DefaultFee, 0)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	tx1, tx2, tx3 := hops[0].txid, hops[1].txid, hops[2].txid
	return []Result{primary(fixture.Scenario{
		Name:            "small_chain_3",
		RootTxID:        tx3.String(),
		Limits:          fixture.Limits{MaxDepth: 6, MaxNodes: 512, MaxEdges: 2048},
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(tx3, tx2, tx1),
		RequiredEdges:   []fixture.Edge{hops[2].edge(), hops[1].edge()},
	})}, nil
}

// buildMergeParent builds a parent with two outputs that are both spent by
// the root.
func buildMergeParent(env *Env) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	parent, parentOuts, err := env.Spender.Spend([]fixture.Outpoint{u},
		[]btcutil.Amount{40_000_000, u.Value - 40_000_000 - txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	root, _, err := env.Spender.Spend(parentOuts,
		[]btcutil.Amount{fixture.SumValues(parentOuts) - 2*txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:            "merge_parent_double_input",
		RootTxID:        root.String(),
		Limits:          fixture.Limits{MaxDepth: 6, MaxNodes: 512, MaxEdges: 2048},
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(root, parent),
		RequiredEdges: []fixture.Edge{
			fixture.NewEdge(root, 0, parentOuts[0]),
			fixture.NewEdge(root, 1, parentOuts[1]),
		},
	})}, nil
}

// buildWideFrontier builds 32 single hop parents, confirms them, then
// merges them into one root.  The same root is probed three times: with
// generous limits, and with node and edge ceilings too small for even the
// root's parents.
func buildWideFrontier(env *Env) ([]Result, error) {
	inputs, err := env.Pool.TakeN(wideFrontierWidth)
	if err != nil {
		return nil, err
	}
	parents, err := spendEach(env, inputs)
	if err != nil {
		return nil, err
	}
	// Parents are confirmed first so the root stays clear of the
	// unconfirmed ancestor limit.
	if err := env.mine(); err != nil {
		return nil, err
	}

	fee := btcutil.Amount(len(parents)) * txbuild.DefaultFee
	root, _, err := env.Spender.Spend(parents,
		[]btcutil.Amount{fixture.SumValues(parents) - fee})
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	rootID := root.String()
	return []Result{
		primary(fixture.Scenario{
			Name:            "wide_frontier_32",
			RootTxID:        rootID,
			Limits:          fixture.Limits{MaxDepth: 6, MaxNodes: 2048, MaxEdges: 8192},
			ExpectTruncated: false,
			RequiredNodes:   []string{rootID},
			RequiredEdges:   boundaryEdges(root, parents),
		}),
		primary(fixture.Scenario{
			Name:                   "node_limit_truncation",
			RootTxID:               rootID,
			Limits:                 fixture.Limits{MaxDepth: 10, MaxNodes: 5, MaxEdges: 8192},
			ExpectTruncated:        true,
			RequiredNodes:          []string{rootID},
			RequiredEdges:          []fixture.Edge{},
			ExpectedExactNodeCount: fixture.IntPtr(1),
			ExpectedExactEdgeCount: fixture.IntPtr(0),
		}),
		primary(fixture.Scenario{
			Name:                   "edge_limit_truncation",
			RootTxID:               rootID,
			Limits:                 fixture.Limits{MaxDepth: 10, MaxNodes: 8192, MaxEdges: 10},
			ExpectTruncated:        true,
			RequiredNodes:          []string{rootID},
			RequiredEdges:          []fixture.Edge{},
			ExpectedExactNodeCount: fixture.IntPtr(1),
			ExpectedExactEdgeCount: fixture.IntPtr(0),
		}),
	}, nil
}

// buildDeepChain builds a 40 hop chain probed once with enough depth to
// reach its first hop and once with a depth limit that cuts it short.
func buildDeepChain(env *Env) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, deepChainLength, txbuild.DefaultFee,
		chainMineInterval)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	last := &hops[len(hops)-1]
	root := last.txid
	return []Result{
		primary(fixture.Scenario{
			Name:            "deep_chain_40_full",
			RootTxID:        root.String(),
			Limits:          fixture.Limits{MaxDepth: 60, MaxNodes: 4096, MaxEdges: 8192},
			ExpectTruncated: false,
			RequiredNodes: fixture.TxIDStrings(root,
				hops[len(hops)-2].txid, hops[0].txid),
			RequiredEdges: []fixture.Edge{last.edge()},
		}),
		primary(fixture.Scenario{
			Name:            "deep_chain_40_depth_limited",
			RootTxID:        root.String(),
			Limits:          fixture.Limits{MaxDepth: 10, MaxNodes: 4096, MaxEdges: 8192},
			ExpectTruncated: true,
			RequiredNodes:   []string{root.String()},
			RequiredEdges:   []fixture.Edge{},
		}),
	}, nil
}

// buildSpentPrevoutGap builds a parent and a root spending its already
// spent output, probed at depth zero so the parent is never fetched.
func buildSpentPrevoutGap(env *Env) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, 2, txbuild.DefaultFee, 0)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	root := &hops[1]
	return []Result{primary(fixture.Scenario{
		Name:                         "spent_prevout_gap",
		RootTxID:                     root.txid.String(),
		Limits:                       fixture.Limits{MaxDepth: 0, MaxNodes: 64, MaxEdges: 256},
		ExpectTruncated:              true,
		RequiredNodes:                []string{root.txid.String()},
		RequiredEdges:                []fixture.Edge{root.edge()},
		ExpectedUnresolvedInputCount: fixture.IntPtr(0),
	})}, nil
}
