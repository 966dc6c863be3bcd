// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
)

const (
	// DefaultStressTarget is the default size of every stress shape.
	DefaultStressTarget = 500

	// StressReserve is the pool headroom funded on top of the stress
	// target.
	StressReserve = 24

	// mergeFanout is the width of the fan-out merged back by
	// stress_merge.
	mergeFanout = txbuild.MaxOutputsPerTx
)

// Stress returns the stress tier catalog sized by target.
func Stress(target int) []Builder {
	return []Builder{
		&recipe{
			name:  fmt.Sprintf("stress_deep_%d", target),
			tier:  fixture.TierStress,
			draw:  1,
			build: func(env *Env) ([]Result, error) { return buildStressDeep(env, target) },
		},
		&recipe{
			name:  fmt.Sprintf("stress_wide_%d", target),
			tier:  fixture.TierStress,
			draw:  target,
			build: func(env *Env) ([]Result, error) { return buildStressWide(env, target) },
		},
		&recipe{
			name:  fmt.Sprintf("stress_merge_%d", target),
			tier:  fixture.TierStress,
			draw:  1,
			build: func(env *Env) ([]Result, error) { return buildStressMerge(env, target) },
		},
	}
}

// SeedBudget returns the number of pool outpoints to fund for tier.
func SeedBudget(tier fixture.Tier, stressTarget int) int {
	var n int
	if tier.Includes(fixture.TierFunctional) {
		n += FunctionalBudget
	}
	if tier.Includes(fixture.TierStress) {
		n += stressTarget + StressReserve
	}
	return n
}

// buildStressDeep builds a target hop chain.
func buildStressDeep(env *Env, target int) ([]Result, error) {
	if target < 2 {
		return nil, fmt.Errorf("stress target %d too small for a chain", target)
	}
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, target, txbuild.DefaultFee,
		chainMineInterval)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	last := &hops[len(hops)-1]
	return []Result{primary(fixture.Scenario{
		Name:     fmt.Sprintf("stress_deep_%d", target),
		RootTxID: last.txid.String(),
		Limits: fixture.Limits{
			MaxDepth: target + 20,
			MaxNodes: target + 200,
			MaxEdges: target*2 + 100,
		},
		ExpectTruncated: false,
		RequiredNodes: fixture.TxIDStrings(last.txid,
			hops[len(hops)-2].txid, hops[0].txid),
		RequiredEdges: []fixture.Edge{last.edge()},
	})}, nil
}

// buildStressWide builds target single hop parents and consolidates them
// into one root through the compressor.
func buildStressWide(env *Env, target int) ([]Result, error) {
	inputs, err := env.Pool.TakeN(target)
	if err != nil {
		return nil, err
	}
	parents, err := spendEach(env, inputs)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	res, err := env.Compressor.Compress(parents)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:     fmt.Sprintf("stress_wide_%d", target),
		RootTxID: res.TxID.String(),
		Limits: fixture.Limits{
			MaxDepth: 6,
			MaxNodes: target*3 + 200,
			MaxEdges: target*4 + 200,
		},
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(res.TxID),
		RequiredEdges:   boundaryEdges(res.TxID, res.Inputs),
	})}, nil
}

// buildStressMerge builds a long chain, fans its tail out to mergeFanout
// equal outputs and merges them all back into the root.
func buildStressMerge(env *Env, target int) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	chainLen := target - 2
	if chainLen < 1 {
		chainLen = 1
	}
	hops, err := buildChain(env, start, chainLen, txbuild.DefaultFee,
		chainMineInterval)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	tail := hops[len(hops)-1].out
	each := (tail.Value - txbuild.DefaultFee) / mergeFanout
	if each <= txbuild.DefaultFee {
		return nil, fixture.Errorf(fixture.ErrNonPositiveValue,
			"fan-out output value %d too small", each)
	}
	values := make([]btcutil.Amount, mergeFanout)
	for i := range values {
		values[i] = each
	}
	parent, parentOuts, err := env.Spender.Spend([]fixture.Outpoint{tail}, values)
	if err != nil {
		return nil, err
	}
	root, _, err := env.Spender.Spend(parentOuts,
		[]btcutil.Amount{each*mergeFanout - 2*txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:     fmt.Sprintf("stress_merge_%d", target),
		RootTxID: root.String(),
		Limits: fixture.Limits{
			// The chain ahead of the fan-out must fit within the depth
			// limit for the traversal to complete.
			MaxDepth: chainLen + 10,
			MaxNodes: 2048,
			MaxEdges: target*3 + 100,
		},
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(root, parent),
		RequiredEdges:   boundaryEdges(root, parentOuts),
	})}, nil
}
