// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package journal records every transaction broadcast while scenarios are
built.

Each record holds the inputs and outputs of one transaction together with
the scenario that produced it.  The journal refuses a second spend of any
outpoint unless the spend is a declared replacement, which keeps a pool
outpoint from ever being consumed by two scenarios.  Before a fixture is
written it is checked against the journal: every root and required node
must be a live recorded transaction and every required edge must name the
recorded input at its index.

Key layout:

	tx/<txid>          JSON encoded Record
	spent/<txid>:<n>   txid of the spending transaction
*/
package journal

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/journal/engine"
	"github.com/corylabs/graphfixture/journal/engine/leveldb"
	"github.com/corylabs/graphfixture/journal/engine/pebbledb"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	txPrefix    = []byte("tx/")
	spentPrefix = []byte("spent/")
)

// Supported database types.
const (
	TypeLevelDB = "leveldb"
	TypePebble  = "pebble"
)

// SupportedTypes lists the database types OpenEngine accepts.
var SupportedTypes = []string{TypeLevelDB, TypePebble}

// fundingScenario tags transactions recorded outside of any scenario.
const fundingScenario = "pool"

// Input is a recorded transaction input.
type Input struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

// Output is a recorded transaction output.
type Output struct {
	Value   int64  `json:"value"`
	Class   string `json:"class"`
	Address string `json:"address,omitempty"`
}

// Record is one journaled transaction.
type Record struct {
	TxID       string   `json:"txid"`
	Scenario   string   `json:"scenario"`
	Seq        int      `json:"seq"`
	Inputs     []Input  `json:"inputs"`
	Outputs    []Output `json:"outputs"`
	Replaces   string   `json:"replaces,omitempty"`
	ReplacedBy string   `json:"replaced_by,omitempty"`
}

// Live reports whether the transaction has not been replaced.
func (r *Record) Live() bool {
	return r.ReplacedBy == ""
}

// OpenEngine opens a journal database of the given type at path.  An empty
// path selects an in-memory database.
func OpenEngine(dbType, path string) (engine.Engine, error) {
	switch dbType {
	case TypeLevelDB:
		if path == "" {
			return leveldb.NewMemDB()
		}
		return leveldb.NewDB(path, true)

	case TypePebble:
		if path == "" {
			return pebbledb.NewMemDB()
		}
		return pebbledb.NewDB(path, true, 0, 0)
	}
	return nil, fmt.Errorf("unknown journal database type %q -- supported "+
		"types are %s", dbType, strings.Join(SupportedTypes, ", "))
}

// Journal is the construction journal.  It satisfies txbuild.Recorder and
// topology.Tracker.
type Journal struct {
	db       engine.Engine
	params   *chaincfg.Params
	scenario string
	seq      int
}

// New returns a journal writing to db.  Output addresses are encoded for
// params.
func New(db engine.Engine, params *chaincfg.Params) *Journal {
	return &Journal{db: db, params: params, scenario: fundingScenario}
}

// Begin tags every following record with scenario.
func (j *Journal) Begin(scenario string) {
	log.Debugf("Journaling scenario %s from record %d", scenario, j.seq)
	j.scenario = scenario
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func txKey(txid string) []byte {
	return append(append([]byte{}, txPrefix...), txid...)
}

func spentKey(op wire.OutPoint) []byte {
	return append(append([]byte{}, spentPrefix...), op.String()...)
}

// Record journals a broadcast transaction.  A transaction spending an
// outpoint already spent by a recorded transaction is rejected with
// ErrDoubleSpend unless replaces names that transaction, in which case the
// replaced record is marked.
func (j *Journal) Record(tx *wire.MsgTx, replaces *chainhash.Hash) error {
	txid := tx.TxHash()
	rec := Record{
		TxID:     txid.String(),
		Scenario: j.scenario,
		Seq:      j.seq,
		Inputs:   make([]Input, 0, len(tx.TxIn)),
		Outputs:  make([]Output, 0, len(tx.TxOut)),
	}
	for _, in := range tx.TxIn {
		rec.Inputs = append(rec.Inputs, Input{
			TxID:     in.PreviousOutPoint.Hash.String(),
			Vout:     in.PreviousOutPoint.Index,
			Sequence: in.Sequence,
		})
	}
	for _, out := range tx.TxOut {
		class, addrs, _, _ := txscript.ExtractPkScriptAddrs(out.PkScript,
			j.params)
		o := Output{Value: out.Value, Class: class.String()}
		if len(addrs) == 1 {
			o.Address = addrs[0].EncodeAddress()
		}
		rec.Outputs = append(rec.Outputs, o)
	}

	snap, err := j.db.Snapshot()
	if err != nil {
		return err
	}
	var replaced *Record
	for _, in := range tx.TxIn {
		prev, ok, err := spender(snap, in.PreviousOutPoint)
		if err != nil {
			snap.Release()
			return err
		}
		if !ok {
			continue
		}
		if replaces == nil || prev != replaces.String() {
			owner := j.scenarioOf(snap, prev)
			snap.Release()
			return fixture.Errorf(fixture.ErrDoubleSpend, "%v spent by "+
				"%s (scenario %s) and %v (scenario %s)",
				in.PreviousOutPoint, prev, owner, txid, j.scenario)
		}
	}
	if replaces != nil {
		replaced, err = j.lookup(snap, replaces.String())
		if err != nil {
			snap.Release()
			return err
		}
		replaced.ReplacedBy = rec.TxID
		rec.Replaces = replaced.TxID
	}
	snap.Release()

	dbTx, err := j.db.Transaction()
	if err != nil {
		return err
	}
	if err := j.put(dbTx, &rec); err != nil {
		dbTx.Discard()
		return err
	}
	if replaced != nil {
		if err := j.put(dbTx, replaced); err != nil {
			dbTx.Discard()
			return err
		}
	}
	for _, in := range tx.TxIn {
		err := dbTx.Put(spentKey(in.PreviousOutPoint), []byte(rec.TxID))
		if err != nil {
			dbTx.Discard()
			return err
		}
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}

	j.seq++
	log.Tracef("Recorded %s (%s, %d inputs, %d outputs)", rec.TxID,
		rec.Scenario, len(rec.Inputs), len(rec.Outputs))
	return nil
}

func (j *Journal) put(dbTx engine.Transaction, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return dbTx.Put(txKey(rec.TxID), b)
}

func (j *Journal) lookup(snap engine.Snapshot, txid string) (*Record, error) {
	b, err := snap.Get(txKey(txid))
	if err != nil {
		return nil, fmt.Errorf("transaction %s is not journaled: %w", txid,
			err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode journal record %s: %w", txid, err)
	}
	return &rec, nil
}

func (j *Journal) scenarioOf(snap engine.Snapshot, txid string) string {
	rec, err := j.lookup(snap, txid)
	if err != nil {
		return "unknown"
	}
	return rec.Scenario
}

// Lookup returns the record of txid.
func (j *Journal) Lookup(txid string) (*Record, error) {
	snap, err := j.db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return j.lookup(snap, txid)
}

// SpentBy returns the txid of the recorded transaction spending op.
func (j *Journal) SpentBy(op wire.OutPoint) (string, bool, error) {
	snap, err := j.db.Snapshot()
	if err != nil {
		return "", false, err
	}
	defer snap.Release()
	return spender(snap, op)
}

func spender(snap engine.Snapshot, op wire.OutPoint) (string, bool, error) {
	key := spentKey(op)
	has, err := snap.Has(key)
	if err != nil || !has {
		return "", false, err
	}
	b, err := snap.Get(key)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ForEach calls fn for every record in txid order.  Iteration stops at the
// first error.
func (j *Journal) ForEach(fn func(*Record) error) error {
	snap, err := j.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	iter := snap.NewIterator(engine.BytesPrefix(txPrefix))
	defer iter.Release()
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode journal record %s: %w", iter.Key(), err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Summary returns the number of live and replaced transactions recorded
// per scenario.
func (j *Journal) Summary() (map[string]int, int, error) {
	counts := make(map[string]int)
	var replaced int
	err := j.ForEach(func(rec *Record) error {
		if !rec.Live() {
			replaced++
			return nil
		}
		counts[rec.Scenario]++
		return nil
	})
	return counts, replaced, err
}

// Verify checks every scenario of f against the journal.  Roots and
// required nodes must be live recorded transactions and every required
// edge must equal the recorded input at its index.
func (j *Journal) Verify(f *fixture.Fixture) error {
	snap, err := j.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	live := func(scenario, what, txid string) (*Record, error) {
		rec, err := j.lookup(snap, txid)
		if err != nil {
			return nil, fixture.Errorf(fixture.ErrFixtureMismatch,
				"scenario %s: %s %s: %v", scenario, what, txid, err)
		}
		if !rec.Live() {
			return nil, fixture.Errorf(fixture.ErrFixtureMismatch,
				"scenario %s: %s %s was replaced by %s", scenario, what,
				txid, rec.ReplacedBy)
		}
		return rec, nil
	}

	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		if _, err := live(s.Name, "root", s.RootTxID); err != nil {
			return err
		}
		for _, txid := range s.RequiredNodes {
			if _, err := live(s.Name, "required node", txid); err != nil {
				return err
			}
		}
		for _, edge := range s.RequiredEdges {
			rec, err := live(s.Name, "edge spender", edge.SpendingTxID)
			if err != nil {
				return err
			}
			if int(edge.InputIndex) >= len(rec.Inputs) {
				return fixture.Errorf(fixture.ErrFixtureMismatch,
					"scenario %s: edge %v: spender has %d inputs",
					s.Name, edge, len(rec.Inputs))
			}
			in := rec.Inputs[edge.InputIndex]
			if in.TxID != edge.FundingTxID || in.Vout != edge.FundingVout {
				return fixture.Errorf(fixture.ErrFixtureMismatch,
					"scenario %s: edge %v: input spends %s:%d", s.Name,
					edge, in.TxID, in.Vout)
			}
			funder, err := j.lookup(snap, edge.FundingTxID)
			if err != nil {
				return fixture.Errorf(fixture.ErrFixtureMismatch,
					"scenario %s: edge %v: %v", s.Name, edge, err)
			}
			if int(edge.FundingVout) >= len(funder.Outputs) {
				return fixture.Errorf(fixture.ErrFixtureMismatch,
					"scenario %s: edge %v: funder has %d outputs",
					s.Name, edge, len(funder.Outputs))
			}
		}
	}

	log.Infof("Verified %d scenarios against %d journaled transactions",
		len(f.Scenarios), j.seq)
	return nil
}
