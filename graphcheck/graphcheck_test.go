// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package graphcheck

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const (
	testServer = "http://cory.test"
	testToken  = "test-token"
)

func txid(b byte) string {
	return chainhash.Hash{b}.String()
}

func value(v int64) *int64 {
	return &v
}

// chainScenario is a three transaction chain c <- b <- a rooted at c.
func chainScenario() fixture.Scenario {
	return fixture.Scenario{
		Name:          "small_chain_3",
		Tier:          fixture.TierFunctional,
		RootTxID:      txid(3),
		Limits:        fixture.Limits{MaxDepth: 50, MaxNodes: 500, MaxEdges: 2000},
		RequiredNodes: []string{txid(1), txid(2), txid(3)},
		RequiredEdges: []fixture.Edge{
			{SpendingTxID: txid(3), FundingTxID: txid(2)},
			{SpendingTxID: txid(2), FundingTxID: txid(1)},
		},
		ExpectedExactNodeCount: fixture.IntPtr(3),
		ExpectedExactEdgeCount: fixture.IntPtr(2),
	}
}

// chainGraph is the complete answer for chainScenario.  The oldest
// transaction spends an output outside the graph.
func chainGraph() *Graph {
	return &Graph{
		Nodes: map[string]Node{
			txid(1): {TxID: txid(1), Inputs: []Input{{}}},
			txid(2): {TxID: txid(2), Inputs: []Input{{Value: value(1000)}}},
			txid(3): {TxID: txid(3), Inputs: []Input{{Value: value(900)}}},
		},
		Edges: []fixture.Edge{
			{SpendingTxID: txid(3), FundingTxID: txid(2)},
			{SpendingTxID: txid(2), FundingTxID: txid(1)},
		},
		RootTxID: txid(3),
		Stats:    Stats{NodeCount: 3, EdgeCount: 2, MaxDepthReached: 2},
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		scenario func(s *fixture.Scenario)
		graph    func(g *Graph)
		problems []string
	}{
		{
			name: "complete",
		},
		{
			name:     "unexpected truncation",
			graph:    func(g *Graph) { g.Truncated = true },
			problems: []string{"truncated true, want false"},
		},
		{
			name: "missing root",
			graph: func(g *Graph) {
				delete(g.Nodes, txid(3))
				g.Stats.NodeCount = 2
				g.Edges = g.Edges[1:]
				g.Stats.EdgeCount = 1
			},
			problems: []string{
				"root node " + txid(3) + " missing",
				"missing required edge",
				"missing required node " + txid(3),
				"node count 2, want exactly 3",
				"edge count 1, want exactly 2",
			},
		},
		{
			name:     "over node limit",
			scenario: func(s *fixture.Scenario) { s.Limits.MaxNodes = 2 },
			problems: []string{"node count 3 exceeds limit 2"},
		},
		{
			name:     "over edge limit",
			scenario: func(s *fixture.Scenario) { s.Limits.MaxEdges = 1 },
			problems: []string{"edge count 2 exceeds limit 1"},
		},
		{
			name:     "stats disagree",
			graph:    func(g *Graph) { g.Stats = Stats{NodeCount: 4, EdgeCount: 1} },
			problems: []string{"stats node count 4", "stats edge count 1"},
		},
		{
			name: "wrong input index",
			graph: func(g *Graph) {
				g.Edges[0].InputIndex = 1
			},
			problems: []string{"missing required edge " + txid(3) + "[0]"},
		},
		{
			name: "open edge set",
			graph: func(g *Graph) {
				g.Edges = append(g.Edges, fixture.Edge{
					SpendingTxID: txid(1), FundingTxID: txid(9),
				})
				g.Stats.EdgeCount = 3
			},
			scenario: func(s *fixture.Scenario) { s.ExpectedExactEdgeCount = nil },
			problems: []string{"funding node missing from untruncated graph"},
		},
		{
			name: "open edge set when truncated",
			graph: func(g *Graph) {
				g.Edges = append(g.Edges, fixture.Edge{
					SpendingTxID: txid(1), FundingTxID: txid(9),
				})
				g.Stats.EdgeCount = 3
				g.Truncated = true
			},
			scenario: func(s *fixture.Scenario) {
				s.ExpectedExactEdgeCount = nil
				s.ExpectTruncated = true
			},
		},
		{
			name:     "unresolved inputs",
			scenario: func(s *fixture.Scenario) { s.ExpectedUnresolvedInputCount = fixture.IntPtr(1) },
			problems: []string{"root has 0 unresolved inputs, want 1"},
		},
		{
			name: "unresolved root input",
			graph: func(g *Graph) {
				g.Nodes[txid(3)].Inputs[0].Value = nil
			},
			scenario: func(s *fixture.Scenario) { s.ExpectedUnresolvedInputCount = fixture.IntPtr(1) },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := chainScenario()
			g := chainGraph()
			if test.scenario != nil {
				test.scenario(&s)
			}
			if test.graph != nil {
				test.graph(g)
			}

			err := Check(&s, g)
			if len(test.problems) == 0 {
				require.NoError(t, err)
				return
			}

			var m *Mismatch
			require.True(t, errors.As(err, &m))
			require.Equal(t, s.Name, m.Scenario)
			require.Len(t, m.Problems, len(test.problems))
			for i, want := range test.problems {
				require.Contains(t, m.Problems[i], want)
			}
		})
	}
}

// newService returns a client whose requests are answered by graphs keyed
// by root txid.
func newService(t *testing.T, graphs map[string]*Graph) (*Client, *httpmock.MockTransport) {
	t.Helper()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, `=~^`+testServer+`/api/v1/graph/tx/\w+`,
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-API-Token") != testToken {
				return httpmock.NewJsonResponse(http.StatusUnauthorized,
					map[string]string{"error": "invalid or missing X-API-Token"})
			}
			root := strings.TrimPrefix(req.URL.Path, graphPath)
			g, ok := graphs[root]
			if !ok {
				return httpmock.NewJsonResponse(http.StatusNotFound,
					map[string]string{"error": "transaction not found: " + root})
			}
			return httpmock.NewJsonResponse(http.StatusOK, g)
		})

	return NewClient(testServer+"/", testToken, &http.Client{Transport: mt}), mt
}

func TestRun(t *testing.T) {
	good := chainScenario()
	bad := chainScenario()
	bad.Name = "node_limit_truncation"
	bad.RootTxID = txid(2)
	bad.Limits = fixture.Limits{MaxDepth: 50, MaxNodes: 1, MaxEdges: 2000}
	bad.ExpectTruncated = true
	bad.RequiredNodes = []string{txid(2)}
	bad.RequiredEdges = nil
	bad.ExpectedExactNodeCount = fixture.IntPtr(1)
	bad.ExpectedExactEdgeCount = fixture.IntPtr(0)

	// The service ignores the node limit for the second root.
	full := chainGraph()
	partial := &Graph{
		Nodes: map[string]Node{
			txid(1): full.Nodes[txid(1)],
			txid(2): full.Nodes[txid(2)],
		},
		Edges:     full.Edges[1:],
		RootTxID:  txid(2),
		Truncated: true,
		Stats:     Stats{NodeCount: 2, EdgeCount: 1},
	}

	c, mt := newService(t, map[string]*Graph{txid(3): full, txid(2): partial})
	f := fixture.New(fixture.TierFunctional, 500)
	f.Scenarios = []fixture.Scenario{good, bad}

	report, err := Run(context.Background(), c, f)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Equal(t, []string{"small_chain_3"}, report.Passed)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, "node_limit_truncation", report.Mismatches[0].Scenario)
	require.Contains(t, report.Mismatches[0].Error(), "node count 2 exceeds limit 1")
	require.Equal(t, 2, mt.GetTotalCallCount())

	// A root the service does not know aborts the run.
	f.Scenarios[0].RootTxID = txid(7)
	_, err = Run(context.Background(), c, f)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, http.StatusNotFound, svcErr.StatusCode)
	require.Contains(t, err.Error(), "scenario small_chain_3")

	_, err = Run(context.Background(), c, fixture.New(fixture.TierAll, 500))
	require.Error(t, err)
}

func TestClientGraph(t *testing.T) {
	full := chainGraph()
	mt := httpmock.NewMockTransport()
	var query string
	mt.RegisterResponder(http.MethodGet, `=~^`+testServer+`/api/v1/graph/tx/`,
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.RawQuery
			return httpmock.NewJsonResponse(http.StatusOK, full)
		})

	c := NewClient(testServer, testToken, &http.Client{Transport: mt})
	g, err := c.Graph(context.Background(), txid(3),
		fixture.Limits{MaxDepth: 3, MaxNodes: 1, MaxEdges: 0})
	require.NoError(t, err)
	require.Equal(t, "max_depth=3&max_edges=0&max_nodes=1", query)
	require.Equal(t, full.RootTxID, g.RootTxID)
	require.Len(t, g.Nodes, 3)
	require.Nil(t, g.Nodes[txid(1)].Inputs[0].Value)
	require.Equal(t, int64(900), *g.Nodes[txid(3)].Inputs[0].Value)

	// Wrong token.
	c, _ = newService(t, nil)
	c.token = "nope"
	_, err = c.Graph(context.Background(), txid(3), fixture.Limits{})
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, http.StatusUnauthorized, svcErr.StatusCode)
	require.Equal(t, "invalid or missing X-API-Token", svcErr.Message)

	// Undecodable body.
	mt.Reset()
	mt.RegisterResponder(http.MethodGet, `=~^`+testServer,
		httpmock.NewStringResponder(http.StatusOK, "<html>"))
	c = NewClient(testServer, testToken, &http.Client{Transport: mt})
	_, err = c.Graph(context.Background(), txid(3), fixture.Limits{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode graph response")
}
