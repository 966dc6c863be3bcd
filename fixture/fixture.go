// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixture

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SchemaVersion is the version of the fixture artifact layout.
const SchemaVersion = 1

// Tier groups scenarios by cost.
type Tier string

const (
	// TierAll selects every scenario.  It is only valid as a run
	// selection, never on a scenario.
	TierAll Tier = "all"

	// TierFunctional selects the small targeted scenarios.
	TierFunctional Tier = "functional"

	// TierStress selects the scenarios sized by the stress target.
	TierStress Tier = "stress"
)

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierAll, TierFunctional, TierStress:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q -- supported tiers are "+
		"all, functional and stress", s)
}

// Includes returns whether a run for tier t builds a scenario of tier s.
func (t Tier) Includes(s Tier) bool {
	return t == TierAll || t == s
}

// Outpoint is a spendable output created during construction.  Every
// Outpoint is consumed at most once.
type Outpoint struct {
	TxID    chainhash.Hash
	Vout    uint32
	Value   btcutil.Amount
	Address string
}

// OutPoint returns the wire representation of the outpoint.
func (o Outpoint) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: o.TxID, Index: o.Vout}
}

// String returns the outpoint in txid:vout form.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// SumValues returns the total value of the passed outpoints.
func SumValues(outpoints []Outpoint) btcutil.Amount {
	var total btcutil.Amount
	for _, op := range outpoints {
		total += op.Value
	}
	return total
}

// Limits bounds a single traversal request.
type Limits struct {
	MaxDepth int `json:"max_depth"`
	MaxNodes int `json:"max_nodes"`
	MaxEdges int `json:"max_edges"`
}

// String returns the limits in depth/nodes/edges form.
func (l Limits) String() string {
	return fmt.Sprintf("%d/%d/%d", l.MaxDepth, l.MaxNodes, l.MaxEdges)
}

// Edge is a spend relationship a correct traversal must report.
type Edge struct {
	SpendingTxID string `json:"spending_txid"`
	InputIndex   uint32 `json:"input_index"`
	FundingTxID  string `json:"funding_txid"`
	FundingVout  uint32 `json:"funding_vout"`
}

// NewEdge returns the edge for input index of spending consuming funding.
func NewEdge(spending chainhash.Hash, index uint32, funding Outpoint) Edge {
	return Edge{
		SpendingTxID: spending.String(),
		InputIndex:   index,
		FundingTxID:  funding.TxID.String(),
		FundingVout:  funding.Vout,
	}
}

// String returns the edge in spending[index] <- funding:vout form.
func (e Edge) String() string {
	return fmt.Sprintf("%s[%d] <- %s:%d", e.SpendingTxID, e.InputIndex,
		e.FundingTxID, e.FundingVout)
}

// Scenario is one graph shape paired with the assertions a correct bounded
// traversal from its root must satisfy.
type Scenario struct {
	Name                         string   `json:"name"`
	Tier                         Tier     `json:"tier"`
	Description                  string   `json:"description,omitempty"`
	RootTxID                     string   `json:"root_txid"`
	Limits                       Limits   `json:"limits"`
	ExpectTruncated              bool     `json:"expect_truncated"`
	RequiredNodes                []string `json:"required_nodes"`
	RequiredEdges                []Edge   `json:"required_edges"`
	ExpectedExactNodeCount       *int     `json:"expected_exact_node_count,omitempty"`
	ExpectedExactEdgeCount       *int     `json:"expected_exact_edge_count,omitempty"`
	ExpectedUnresolvedInputCount *int     `json:"expected_unresolved_input_count,omitempty"`
	LabelTxIDs                   []string `json:"label_txids,omitempty"`
	RelatedTxIDs                 []string `json:"related_txids,omitempty"`
}

// ProbeTxIDs returns the transactions label packs should reference for the
// scenario.  An explicit label list wins over the root and related set.
func (s *Scenario) ProbeTxIDs() []string {
	if len(s.LabelTxIDs) > 0 {
		return s.LabelTxIDs
	}
	txids := make([]string, 0, len(s.RelatedTxIDs)+1)
	txids = append(txids, s.RootTxID)
	for _, txid := range s.RelatedTxIDs {
		if txid != s.RootTxID {
			txids = append(txids, txid)
		}
	}
	return txids
}

// Fixture is the artifact consumed by the graph service test suites.
type Fixture struct {
	SchemaVersion int        `json:"schema_version"`
	Tier          Tier       `json:"tier"`
	StressTarget  int        `json:"stress_target"`
	Scenarios     []Scenario `json:"scenarios"`
}

// New returns an empty fixture for the given run selection.
func New(tier Tier, stressTarget int) *Fixture {
	return &Fixture{
		SchemaVersion: SchemaVersion,
		Tier:          tier,
		StressTarget:  stressTarget,
		Scenarios:     []Scenario{},
	}
}

// Lookup returns the scenario with the passed name.
func (f *Fixture) Lookup(name string) (*Scenario, bool) {
	for i := range f.Scenarios {
		if f.Scenarios[i].Name == name {
			return &f.Scenarios[i], true
		}
	}
	return nil, false
}

// TxIDStrings converts hashes to their display form.
func TxIDStrings(hashes ...chainhash.Hash) []string {
	s := make([]string, 0, len(hashes))
	for i := range hashes {
		s = append(s, hashes[i].String())
	}
	return s
}

// IntPtr returns a pointer to n for the optional count fields.
func IntPtr(n int) *int {
	return &n
}
