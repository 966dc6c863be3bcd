// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package graphcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/corylabs/graphfixture/fixture"
)

// Mismatch lists every assertion a graph failed for one scenario.
type Mismatch struct {
	Scenario string
	Problems []string
}

// Error satisfies the error interface.
func (m *Mismatch) Error() string {
	return fmt.Sprintf("scenario %s: %s", m.Scenario,
		strings.Join(m.Problems, "; "))
}

// Check asserts g against the expectations of s.  It returns nil when g
// satisfies all of them and a *Mismatch otherwise.
func Check(s *fixture.Scenario, g *Graph) error {
	var problems []string
	failf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if g.RootTxID != s.RootTxID {
		failf("root txid %s, want %s", g.RootTxID, s.RootTxID)
	}
	if g.Truncated != s.ExpectTruncated {
		failf("truncated %v, want %v", g.Truncated, s.ExpectTruncated)
	}
	root, haveRoot := g.Nodes[s.RootTxID]
	if !haveRoot {
		failf("root node %s missing", s.RootTxID)
	}
	if len(g.Nodes) > s.Limits.MaxNodes {
		failf("node count %d exceeds limit %d", len(g.Nodes),
			s.Limits.MaxNodes)
	}
	if len(g.Edges) > s.Limits.MaxEdges {
		failf("edge count %d exceeds limit %d", len(g.Edges),
			s.Limits.MaxEdges)
	}
	if g.Stats.NodeCount != len(g.Nodes) {
		failf("stats node count %d, graph has %d", g.Stats.NodeCount,
			len(g.Nodes))
	}
	if g.Stats.EdgeCount != len(g.Edges) {
		failf("stats edge count %d, graph has %d", g.Stats.EdgeCount,
			len(g.Edges))
	}

	got := make(map[fixture.Edge]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		got[e] = struct{}{}
	}
	for _, want := range s.RequiredEdges {
		if _, ok := got[want]; !ok {
			failf("missing required edge %v", want)
		}
	}
	for _, txid := range s.RequiredNodes {
		if _, ok := g.Nodes[txid]; !ok {
			failf("missing required node %s", txid)
		}
	}

	if s.ExpectedExactNodeCount != nil && len(g.Nodes) != *s.ExpectedExactNodeCount {
		failf("node count %d, want exactly %d", len(g.Nodes),
			*s.ExpectedExactNodeCount)
	}
	if s.ExpectedExactEdgeCount != nil && len(g.Edges) != *s.ExpectedExactEdgeCount {
		failf("edge count %d, want exactly %d", len(g.Edges),
			*s.ExpectedExactEdgeCount)
	}

	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.SpendingTxID]; !ok {
			failf("edge %v: spending node missing", e)
		}
		// Only a complete graph has every funding node.
		if !g.Truncated {
			if _, ok := g.Nodes[e.FundingTxID]; !ok {
				failf("edge %v: funding node missing from "+
					"untruncated graph", e)
			}
		}
	}

	if s.ExpectedUnresolvedInputCount != nil && haveRoot {
		var unresolved int
		for _, in := range root.Inputs {
			if in.Value == nil {
				unresolved++
			}
		}
		if unresolved != *s.ExpectedUnresolvedInputCount {
			failf("root has %d unresolved inputs, want %d", unresolved,
				*s.ExpectedUnresolvedInputCount)
		}
	}

	if len(problems) > 0 {
		return &Mismatch{Scenario: s.Name, Problems: problems}
	}
	return nil
}

// Report is the outcome of checking a whole fixture.
type Report struct {
	Passed     []string
	Mismatches []*Mismatch
}

// OK reports whether every scenario passed.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Run requests the graph of every scenario of f and checks it.  Assertion
// failures are collected in the report.  Request failures abort the run.
func Run(ctx context.Context, c *Client, f *fixture.Fixture) (*Report, error) {
	if f.SchemaVersion != fixture.SchemaVersion {
		return nil, fmt.Errorf("fixture schema version %d, want %d",
			f.SchemaVersion, fixture.SchemaVersion)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("fixture has no scenarios")
	}

	report := &Report{}
	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		log.Infof("Checking scenario %s (root %s, limits %v)", s.Name,
			s.RootTxID, s.Limits)

		g, err := c.Graph(ctx, s.RootTxID, s.Limits)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		if err := Check(s, g); err != nil {
			log.Errorf("%v", err)
			report.Mismatches = append(report.Mismatches, err.(*Mismatch))
			continue
		}
		report.Passed = append(report.Passed, s.Name)
	}

	log.Infof("%d of %d scenarios passed", len(report.Passed),
		len(f.Scenarios))
	return report, nil
}
