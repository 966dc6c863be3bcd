// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
)

// DefaultLimits are the traversal limits the graph service applies when a
// request names none.  Manual scenarios are predicted against them.
var DefaultLimits = fixture.Limits{MaxDepth: 50, MaxNodes: 500, MaxEdges: 2000}

const (
	cpfpParentFee     btcutil.Amount = 5_000
	cpfpChildFee      btcutil.Amount = 25_000
	rbfOriginalFee    btcutil.Amount = 5_000
	rbfReplacementFee btcutil.Amount = 25_000
	opReturnFee       btcutil.Amount = 8_000
)

// opReturnPayload is carried by the data output of op_return_payload.
var opReturnPayload = []byte("cory-ui-fixture")

// Profile sizes the manual catalog.
type Profile struct {
	Name string

	// Fan is the width of fan_in and fan_out.
	Fan int

	// Equal is the number of inputs and equal outputs of the
	// coinjoin-like transaction.
	Equal int

	// LongDepth is the length of the chain exceeding the default depth
	// limit.
	LongDepth int
}

// Profiles lists the supported manual catalog sizes.
var Profiles = map[string]Profile{
	"fast":     {Name: "fast", Fan: 20, Equal: 5, LongDepth: 52},
	"balanced": {Name: "balanced", Fan: 24, Equal: 6, LongDepth: 60},
	"rich":     {Name: "rich", Fan: 40, Equal: 10, LongDepth: 80},
}

// ParseProfile returns the named profile.
func ParseProfile(name string) (Profile, error) {
	p, ok := Profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		names := make([]string, 0, len(Profiles))
		for n := range Profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return Profile{}, fmt.Errorf("unknown profile %q -- supported "+
			"profiles are %s", name, strings.Join(names, ", "))
	}
	return p, nil
}

// Manual returns the catalog of hand-inspectable shapes sized by p.  Every
// manual scenario belongs to the functional tier.
func Manual(p Profile) []Builder {
	return []Builder{
		&recipe{
			name:  "simple_chain_4",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildSimpleChain,
		},
		&recipe{
			name:  "diamond_merge",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildDiamond,
		},
		&recipe{
			name:  fmt.Sprintf("fan_in_%d", p.Fan),
			tier:  fixture.TierFunctional,
			draw:  p.Fan,
			build: func(env *Env) ([]Result, error) { return buildFanIn(env, p.Fan) },
		},
		&recipe{
			name:  fmt.Sprintf("fan_out_%d", p.Fan),
			tier:  fixture.TierFunctional,
			draw:  1,
			build: func(env *Env) ([]Result, error) { return buildFanOut(env, p.Fan) },
		},
		&recipe{
			name:  fmt.Sprintf("coinjoin_like_equal_outputs_%d", p.Equal),
			tier:  fixture.TierFunctional,
			draw:  p.Equal,
			build: func(env *Env) ([]Result, error) { return buildEqualOutputs(env, p.Equal) },
		},
		&recipe{
			name:    "cpfp_parent_child",
			tier:    fixture.TierFunctional,
			draw:    1,
			pending: true,
			build:   buildCPFP,
		},
		&recipe{
			name:  "rbf_replacement",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildReplacement,
		},
		&recipe{
			name:  "op_return_payload",
			tier:  fixture.TierFunctional,
			draw:  1,
			build: buildOpReturn,
		},
		&recipe{
			name:  fmt.Sprintf("deep_chain_%d_for_truncation", p.LongDepth),
			tier:  fixture.TierFunctional,
			draw:  1,
			build: func(env *Env) ([]Result, error) { return buildLongChain(env, p.LongDepth) },
		},
	}
}

func buildSimpleChain(env *Env) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, 4, txbuild.DefaultFee, 0)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	txids := chainTxIDs(hops)
	edges := make([]fixture.Edge, 0, len(hops)-1)
	for i := len(hops) - 1; i > 0; i-- {
		edges = append(edges, hops[i].edge())
	}
	return []Result{primary(fixture.Scenario{
		Name:            "simple_chain_4",
		Description:     "Linear ancestry chain with four hops.",
		RootTxID:        txids[len(txids)-1].String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(txids...),
		RequiredEdges:   edges,
		RelatedTxIDs:    fixture.TxIDStrings(txids...),
	})}, nil
}

func buildDiamond(env *Env) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	half := u.Value/2 - txbuild.DefaultFee
	parent, parentOuts, err := env.Spender.Spend([]fixture.Outpoint{u},
		[]btcutil.Amount{half, half})
	if err != nil {
		return nil, err
	}
	left, leftOuts, err := env.Spender.Spend(parentOuts[:1],
		[]btcutil.Amount{half - txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	right, rightOuts, err := env.Spender.Spend(parentOuts[1:],
		[]btcutil.Amount{half - txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	branches := []fixture.Outpoint{leftOuts[0], rightOuts[0]}
	merge, _, err := env.Spender.Spend(branches,
		[]btcutil.Amount{fixture.SumValues(branches) - 2*txbuild.DefaultFee})
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:            "diamond_merge",
		Description:     "Split into two branches that merge back into one root.",
		RootTxID:        merge.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(merge, left, right, parent),
		RequiredEdges: []fixture.Edge{
			fixture.NewEdge(merge, 0, leftOuts[0]),
			fixture.NewEdge(merge, 1, rightOuts[0]),
			fixture.NewEdge(left, 0, parentOuts[0]),
			fixture.NewEdge(right, 0, parentOuts[1]),
		},
		RelatedTxIDs: fixture.TxIDStrings(merge, left, right, parent),
	})}, nil
}

func buildFanIn(env *Env, k int) ([]Result, error) {
	inputs, err := env.Pool.TakeN(k)
	if err != nil {
		return nil, err
	}
	fee := btcutil.Amount(k) * txbuild.DefaultFee
	root, _, err := env.Spender.Spend(inputs,
		[]btcutil.Amount{fixture.SumValues(inputs) - fee})
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	related := append(fixture.TxIDStrings(root),
		fixture.TxIDStrings(fundingTxIDs(inputs)...)...)
	return []Result{primary(fixture.Scenario{
		Name:            fmt.Sprintf("fan_in_%d", k),
		Description:     fmt.Sprintf("Consolidation transaction spending %d inputs.", k),
		RootTxID:        root.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   related,
		RequiredEdges:   boundaryEdges(root, inputs),
		RelatedTxIDs:    related,
	})}, nil
}

func buildFanOut(env *Env, k int) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	each := (u.Value - txbuild.DefaultFee) / btcutil.Amount(k)
	values := make([]btcutil.Amount, k)
	for i := range values {
		values[i] = each
	}
	root, _, err := env.Spender.Spend([]fixture.Outpoint{u}, values)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	related := fixture.TxIDStrings(root, u.TxID)
	return []Result{primary(fixture.Scenario{
		Name:            fmt.Sprintf("fan_out_%d", k),
		Description:     fmt.Sprintf("Single-input payout creating %d outputs.", k),
		RootTxID:        root.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   related,
		RequiredEdges:   []fixture.Edge{fixture.NewEdge(root, 0, u)},
		RelatedTxIDs:    related,
	})}, nil
}

func buildEqualOutputs(env *Env, k int) ([]Result, error) {
	inputs, err := env.Pool.TakeN(k)
	if err != nil {
		return nil, err
	}
	fee := btcutil.Amount(k) * txbuild.DefaultFee
	each := (fixture.SumValues(inputs) - fee) / btcutil.Amount(k)
	values := make([]btcutil.Amount, k)
	for i := range values {
		values[i] = each
	}
	root, _, err := env.Spender.Spend(inputs, values)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	related := append(fixture.TxIDStrings(root),
		fixture.TxIDStrings(fundingTxIDs(inputs)...)...)
	return []Result{primary(fixture.Scenario{
		Name:            fmt.Sprintf("coinjoin_like_equal_outputs_%d", k),
		Description:     "Multi-input transaction with equal-valued outputs.",
		RootTxID:        root.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   related,
		RequiredEdges:   boundaryEdges(root, inputs),
		RelatedTxIDs:    related,
	})}, nil
}

// buildCPFP leaves a parent and a child paying a higher fee in the
// mempool.
func buildCPFP(env *Env) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	parent, parentOuts, err := env.Spender.Spend([]fixture.Outpoint{u},
		[]btcutil.Amount{u.Value - cpfpParentFee})
	if err != nil {
		return nil, err
	}
	child, _, err := env.Spender.Spend(parentOuts,
		[]btcutil.Amount{parentOuts[0].Value - cpfpChildFee})
	if err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:            "cpfp_parent_child",
		Description:     "Unconfirmed parent with child paying a higher fee.",
		RootTxID:        child.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(child, parent),
		RequiredEdges: []fixture.Edge{
			fixture.NewEdge(child, 0, parentOuts[0]),
			fixture.NewEdge(parent, 0, u),
		},
		RelatedTxIDs: fixture.TxIDStrings(child, parent),
	})}, nil
}

// buildReplacement broadcasts a replaceable spend and then a conflicting
// spend of the same input paying a higher fee.  A rejected replacement is
// tolerated: the original is confirmed and the reduced rbf_original_only
// scenario is returned instead.
func buildReplacement(env *Env) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	inputs := []fixture.Outpoint{u}
	original, _, err := env.Spender.SendOutputs(inputs,
		[]txbuild.Output{{Value: u.Value - rbfOriginalFee}},
		&txbuild.SendOptions{Sequence: txbuild.ReplaceableSequence})
	if err != nil {
		return nil, err
	}

	replacement, _, err := env.Spender.SendOutputs(inputs,
		[]txbuild.Output{{Value: u.Value - rbfReplacementFee}},
		&txbuild.SendOptions{
			Sequence: txbuild.ReplaceableSequence,
			Replaces: &original,
		})
	if err != nil {
		// Only a refused broadcast is tolerated.  Any later failure means
		// the replacement may already have evicted the original.
		var rejected *txbuild.BroadcastError
		if !errors.As(err, &rejected) {
			return nil, err
		}
		log.Warnf("Replacement of %v rejected, keeping the original: %v",
			original, err)
		if err := env.mine(); err != nil {
			return nil, err
		}
		return []Result{{
			Scenario: fixture.Scenario{
				Name:            "rbf_original_only",
				Description:     "RBF-signaling transaction (replacement was rejected by mempool policy).",
				RootTxID:        original.String(),
				Limits:          DefaultLimits,
				ExpectTruncated: false,
				RequiredNodes:   fixture.TxIDStrings(original),
				RequiredEdges:   []fixture.Edge{fixture.NewEdge(original, 0, u)},
				RelatedTxIDs:    fixture.TxIDStrings(original),
			},
			Variant: Fallback,
			Reason:  err.Error(),
		}}, nil
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:            "rbf_replacement",
		Description:     "RBF-signaling transaction replaced by a higher-fee spend.",
		RootTxID:        replacement.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(replacement),
		RequiredEdges:   []fixture.Edge{fixture.NewEdge(replacement, 0, u)},
		// The replaced transaction is gone from the node, so only the
		// survivor is probed for labels.
		LabelTxIDs:   fixture.TxIDStrings(replacement),
		RelatedTxIDs: fixture.TxIDStrings(original, replacement),
	})}, nil
}

func buildOpReturn(env *Env) ([]Result, error) {
	u, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	root, _, err := env.Spender.SendOutputs([]fixture.Outpoint{u},
		[]txbuild.Output{
			{Value: u.Value - opReturnFee},
			{Data: opReturnPayload},
		}, nil)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	return []Result{primary(fixture.Scenario{
		Name:            "op_return_payload",
		Description:     "Transaction includes an OP_RETURN data output.",
		RootTxID:        root.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: false,
		RequiredNodes:   fixture.TxIDStrings(root),
		RequiredEdges:   []fixture.Edge{fixture.NewEdge(root, 0, u)},
		RelatedTxIDs:    fixture.TxIDStrings(root),
	})}, nil
}

// buildLongChain builds a chain longer than the default depth limit.
func buildLongChain(env *Env, depth int) ([]Result, error) {
	start, err := env.Pool.Take()
	if err != nil {
		return nil, err
	}
	hops, err := buildChain(env, start, depth, txbuild.DefaultFee,
		chainMineInterval)
	if err != nil {
		return nil, err
	}
	if err := env.mine(); err != nil {
		return nil, err
	}

	last := &hops[len(hops)-1]
	related := fixture.TxIDStrings(last.txid, hops[len(hops)-2].txid,
		hops[0].txid)
	return []Result{primary(fixture.Scenario{
		Name:            fmt.Sprintf("deep_chain_%d_for_truncation", depth),
		Description:     "Long ancestry chain meant to exceed the default max_depth.",
		RootTxID:        last.txid.String(),
		Limits:          DefaultLimits,
		ExpectTruncated: depth > DefaultLimits.MaxDepth,
		RequiredNodes:   []string{last.txid.String()},
		RequiredEdges:   []fixture.Edge{last.edge()},
		RelatedTxIDs:    related,
	})}, nil
}
