// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package topology holds the catalog of scenario builders.

Each builder draws a fixed number of outpoints from the shared pool, drives
the spend primitive and the consolidation compressor in a fixed order to
realize one named graph shape, and derives the traversal ground truth of the
resulting scenarios from the construction itself.

Builders run strictly in sequence against one Env.  Builders that leave
transactions unconfirmed on purpose report Pending and are always run after
every other builder, so no later confirmation block can settle them.
*/
package topology

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/corylabs/graphfixture/consolidate"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/corylabs/graphfixture/utxopool"
)

// ErrInterrupted is returned by Run when construction is interrupted
// between two builders.
var ErrInterrupted = errors.New("scenario construction interrupted")

// Tracker is told which builder is about to run.
type Tracker interface {
	Begin(name string)
}

// Env is the shared state every builder runs against.
type Env struct {
	Harness    *harness.Harness
	Spender    *txbuild.Spender
	Compressor *consolidate.Compressor
	Pool       *utxopool.Pool

	// Tracker is optional.
	Tracker Tracker
}

// Params returns the network the scenarios are built on.
func (e *Env) Params() *chaincfg.Params {
	return e.Harness.Node.Network()
}

// mine confirms everything currently unconfirmed.
func (e *Env) mine() error {
	return e.Harness.Mine()
}

// Variant tells whether a builder produced its intended shape or a reduced
// shape after a tolerated failure.
type Variant int

const (
	// Primary is the intended shape.
	Primary Variant = iota

	// Fallback is the reduced shape.
	Fallback
)

// String returns the Variant as a human-readable name.
func (v Variant) String() string {
	switch v {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	}
	return fmt.Sprintf("Unknown Variant (%d)", int(v))
}

// Result is one scenario produced by a builder.
type Result struct {
	Scenario fixture.Scenario
	Variant  Variant

	// Reason describes the tolerated failure behind a Fallback result.
	Reason string
}

func primary(s fixture.Scenario) Result {
	return Result{Scenario: s, Variant: Primary}
}

// Builder realizes one graph shape and returns the scenarios probing it.
type Builder interface {
	// Name identifies the builder in logs and errors.
	Name() string

	// Tier is the tier of every scenario the builder produces.
	Tier() fixture.Tier

	// PoolDraw is the exact number of pool outpoints Build consumes.
	PoolDraw() int

	// Pending reports whether Build leaves transactions unconfirmed.
	Pending() bool

	// Build constructs the shape.
	Build(env *Env) ([]Result, error)
}

// recipe is the Builder implementation used by every catalog entry.
type recipe struct {
	name    string
	tier    fixture.Tier
	draw    int
	pending bool
	build   func(env *Env) ([]Result, error)
}

// Ensure recipe implements the Builder interface.
var _ Builder = (*recipe)(nil)

func (r *recipe) Name() string                     { return r.name }
func (r *recipe) Tier() fixture.Tier               { return r.tier }
func (r *recipe) PoolDraw() int                    { return r.draw }
func (r *recipe) Pending() bool                    { return r.pending }
func (r *recipe) Build(env *Env) ([]Result, error) { return r.build(env) }

// Order returns builders with every pending builder moved after all the
// others.  Relative order is otherwise kept.
func Order(builders []Builder) []Builder {
	ordered := make([]Builder, 0, len(builders))
	for _, b := range builders {
		if !b.Pending() {
			ordered = append(ordered, b)
		}
	}
	for _, b := range builders {
		if b.Pending() {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// TotalDraw returns the number of pool outpoints builders consume.
func TotalDraw(builders []Builder) int {
	var n int
	for _, b := range builders {
		n += b.PoolDraw()
	}
	return n
}

// Run executes builders in order against env and collects their results.
// The pool must hold enough outpoints for every builder before anything is
// built.  The interrupt channel is polled between builders; a closed
// channel aborts the run with ErrInterrupted.
func Run(env *Env, builders []Builder, interrupt <-chan struct{}) ([]Result, error) {
	if need := TotalDraw(builders); need > env.Pool.Len() {
		return nil, fixture.Errorf(fixture.ErrPoolExhausted,
			"builders draw %d outpoints, pool holds %d", need,
			env.Pool.Len())
	}

	var results []Result
	for _, b := range Order(builders) {
		select {
		case <-interrupt:
			return nil, ErrInterrupted
		default:
		}

		log.Infof("Building %s", b.Name())
		if env.Tracker != nil {
			env.Tracker.Begin(b.Name())
		}
		before := env.Pool.Len()
		built, err := b.Build(env)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", b.Name(), err)
		}
		if drawn := before - env.Pool.Len(); drawn != b.PoolDraw() {
			return nil, fmt.Errorf("scenario %s: drew %d pool outpoints, "+
				"declared %d", b.Name(), drawn, b.PoolDraw())
		}

		for i := range built {
			built[i].Scenario.Tier = b.Tier()
			s := &built[i].Scenario
			log.Debugf("Scenario %s: root %s, limits %v, truncated %v, "+
				"%d nodes, %d edges required", s.Name, s.RootTxID,
				s.Limits, s.ExpectTruncated, len(s.RequiredNodes),
				len(s.RequiredEdges))
		}
		results = append(results, built...)
	}
	return results, nil
}

// Scenarios returns the scenarios of results in order.
func Scenarios(results []Result) []fixture.Scenario {
	scenarios := make([]fixture.Scenario, 0, len(results))
	for i := range results {
		scenarios = append(scenarios, results[i].Scenario)
	}
	return scenarios
}
