// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package labels generates BIP-329 label packs that point at entities of
// the built scenarios.
//
// Labels are drawn from live transaction data so every reference resolves
// in the current chain.  Each pack file holds one record per label type,
// and references are handed out round-robin across all files of a run.
package labels

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Label types in the order every file lists them.
const (
	TypeTx     = "tx"
	TypeAddr   = "addr"
	TypeInput  = "input"
	TypeOutput = "output"
)

// TargetTypes is the set of label types written to every file.
var TargetTypes = []string{TypeTx, TypeAddr, TypeInput, TypeOutput}

var (
	// RWFiles are the files of the writable pack.
	RWFiles = []string{
		"analyst/watchlist.jsonl",
		"ops/hot_wallets.jsonl",
		"ops/anomalies.jsonl",
	}

	// ROFiles are the files of the read-only pack.
	ROFiles = []string{
		"reference/exchanges/major.jsonl",
		"incidents/hacks_2024.jsonl",
		"incidents/sanctions.jsonl",
	}
)

// Record is one BIP-329 label.
type Record struct {
	Type  string `json:"type"`
	Ref   string `json:"ref"`
	Label string `json:"label"`
}

// TxFetcher returns decoded transactions.
type TxFetcher interface {
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)
}

// Refs holds the referenceable entities per label type, deduplicated in
// discovery order.
type Refs map[string][]string

type refSet struct {
	refs Refs
	seen map[string]struct{}
}

func (s *refSet) add(typ, ref string) {
	key := typ + "|" + ref
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.refs[typ] = append(s.refs[typ], ref)
}

// CollectRefs gathers label references from the probe transactions of
// scenarios.  Transactions the node cannot return are skipped with a
// warning.  Every label type must end up with at least one reference.
func CollectRefs(src TxFetcher, params *chaincfg.Params, scenarios []fixture.Scenario) (Refs, error) {
	set := refSet{refs: make(Refs), seen: make(map[string]struct{})}
	probed := make(map[string]struct{})

	for i := range scenarios {
		for _, txid := range scenarios[i].ProbeTxIDs() {
			if _, ok := probed[txid]; ok {
				continue
			}
			probed[txid] = struct{}{}

			hash, err := chainhash.NewHashFromStr(txid)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %w",
					scenarios[i].Name, err)
			}
			raw, err := src.GetRawTransactionVerbose(hash)
			if err != nil {
				log.Warnf("Skipping unavailable txid %s while generating "+
					"labels: %v", txid, err)
				continue
			}

			set.add(TypeTx, txid)
			for idx := range raw.Vin {
				set.add(TypeInput, fmt.Sprintf("%s:%d", txid, idx))
			}
			for j := range raw.Vout {
				vout := &raw.Vout[j]
				set.add(TypeOutput, fmt.Sprintf("%s:%d", txid, vout.N))
				if addr := txbuild.OutputAddress(vout, params); addr != "" {
					set.add(TypeAddr, addr)
				}
			}
		}
	}

	for _, typ := range TargetTypes {
		if len(set.refs[typ]) == 0 {
			return nil, fmt.Errorf("no %s refs available for generated "+
				"label packs", typ)
		}
	}
	log.Debugf("Collected %d tx, %d addr, %d input and %d output refs",
		len(set.refs[TypeTx]), len(set.refs[TypeAddr]),
		len(set.refs[TypeInput]), len(set.refs[TypeOutput]))
	return set.refs, nil
}

// Pack describes a generated pair of label directories.
type Pack struct {
	RWDir     string
	RODir     string
	RWFileIDs []string
	ROFileIDs []string
}

// picker hands out references round-robin per label type.
type picker struct {
	refs    Refs
	cursors map[string]int
}

func (p *picker) records(prefix string) []Record {
	records := make([]Record, 0, len(TargetTypes))
	for _, typ := range TargetTypes {
		pool := p.refs[typ]
		ref := pool[p.cursors[typ]%len(pool)]
		p.cursors[typ]++
		records = append(records, Record{
			Type:  typ,
			Ref:   ref,
			Label: prefix + "_" + typ,
		})
	}
	return records
}

// fileID returns the identifier of a pack file: its relative path without
// the extension.
func fileID(rel string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
}

// Generate writes the writable pack under dir/rw and the read-only pack
// under dir/ro.
func Generate(dir string, refs Refs) (*Pack, error) {
	pack := &Pack{
		RWDir: filepath.Join(dir, "rw"),
		RODir: filepath.Join(dir, "ro"),
	}
	p := &picker{refs: refs, cursors: make(map[string]int)}

	write := func(root, kind string, files []string) ([]string, error) {
		ids := make([]string, 0, len(files))
		for _, rel := range files {
			id := fileID(rel)
			prefix := kind + "_" + strings.ReplaceAll(id, "/", "_")
			path := filepath.Join(root, filepath.FromSlash(rel))
			if err := WriteFile(path, p.records(prefix)); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var err error
	if pack.RWFileIDs, err = write(pack.RWDir, "rw", RWFiles); err != nil {
		return nil, err
	}
	if pack.ROFileIDs, err = write(pack.RODir, "ro", ROFiles); err != nil {
		return nil, err
	}

	log.Infof("Wrote label packs to %s (rw) and %s (ro)", pack.RWDir,
		pack.RODir)
	return pack, nil
}

// WriteFile writes records to path as JSON lines, creating parent
// directories as needed.
func WriteFile(path string, records []Record) error {
	var buf bytes.Buffer
	for i := range records {
		b, err := json.Marshal(&records[i])
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// ReadFile reads a JSON lines label file.  Blank lines are ignored.
func ReadFile(path string) ([]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	for n, line := range bytes.Split(b, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n+1, err)
		}
		records = append(records, r)
	}
	return records, nil
}
