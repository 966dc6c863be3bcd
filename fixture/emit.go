// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Validate checks the structural integrity of the fixture.  It does not
// consult the chain; see the journal package for that.
func (f *Fixture) Validate() error {
	if f.SchemaVersion != SchemaVersion {
		return Errorf(ErrInvalidFixture, "unsupported schema version %d",
			f.SchemaVersion)
	}
	if _, err := ParseTier(string(f.Tier)); err != nil {
		return Errorf(ErrInvalidFixture, "fixture: %v", err)
	}
	if f.StressTarget < 0 {
		return Errorf(ErrInvalidFixture, "negative stress target %d",
			f.StressTarget)
	}

	seen := make(map[string]struct{}, len(f.Scenarios))
	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		if s.Name == "" {
			return Errorf(ErrInvalidFixture, "scenario %d has no name", i)
		}
		if _, ok := seen[s.Name]; ok {
			return Errorf(ErrInvalidFixture, "duplicate scenario %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.Tier != TierFunctional && s.Tier != TierStress {
			return Errorf(ErrInvalidFixture, "scenario %q has invalid "+
				"tier %q", s.Name, s.Tier)
		}
		if !f.Tier.Includes(s.Tier) {
			return Errorf(ErrInvalidFixture, "scenario %q of tier %s in "+
				"a %s fixture", s.Name, s.Tier, f.Tier)
		}
		if s.Limits.MaxDepth < 0 || s.Limits.MaxNodes < 0 ||
			s.Limits.MaxEdges < 0 {

			return Errorf(ErrInvalidFixture, "scenario %q has negative "+
				"limits %v", s.Name, s.Limits)
		}
		if err := checkTxID(s.Name, "root", s.RootTxID); err != nil {
			return err
		}
		for _, txid := range s.RequiredNodes {
			if err := checkTxID(s.Name, "required node", txid); err != nil {
				return err
			}
		}
		for _, edge := range s.RequiredEdges {
			if err := checkTxID(s.Name, "edge spender", edge.SpendingTxID); err != nil {
				return err
			}
			if err := checkTxID(s.Name, "edge funder", edge.FundingTxID); err != nil {
				return err
			}
		}
		for _, txid := range s.LabelTxIDs {
			if err := checkTxID(s.Name, "label", txid); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkTxID(scenario, what, txid string) error {
	if len(txid) != chainhash.MaxHashStringSize {
		return Errorf(ErrInvalidFixture, "scenario %q: %s txid %q is "+
			"malformed", scenario, what, txid)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return Errorf(ErrInvalidFixture, "scenario %q: %s txid %q: %v",
			scenario, what, txid, err)
	}
	return nil
}

// Write validates the fixture and stores it at path.  The file is written to
// a temporary sibling first and linked into place so a failed run never
// leaves a partial artifact behind.  An existing file at path is never
// replaced; the returned error then matches os.ErrExist.
func Write(path string, f *Fixture) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("fixture %s: %w", path, os.ErrExist)
	}

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	// Link fails if path appeared after the check above.
	err = os.Link(tmp.Name(), path)
	os.Remove(tmp.Name())
	if err != nil {
		return fmt.Errorf("fixture %s: %w", path, err)
	}

	log.Infof("Wrote %d scenarios (tier %s) to %s", len(f.Scenarios),
		f.Tier, path)
	return nil
}

// Load reads and validates a fixture artifact.
func Load(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, Errorf(ErrInvalidFixture, "decode %s: %v", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
