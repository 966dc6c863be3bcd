// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/corylabs/graphfixture/consolidate"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/corylabs/graphfixture/harness/rpcnode"
	"github.com/corylabs/graphfixture/internal/limits"
	"github.com/corylabs/graphfixture/internal/log"
	"github.com/corylabs/graphfixture/internal/version"
	"github.com/corylabs/graphfixture/journal"
	"github.com/corylabs/graphfixture/labels"
	"github.com/corylabs/graphfixture/topology"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/corylabs/graphfixture/utxopool"
)

var gfixLog = log.GfixLog

// newNode returns the chain node the run builds against.
func newNode(cfg *config) (harness.ChainNode, error) {
	if cfg.SimNet {
		gfixLog.Infof("Building against an in-memory regtest node")
		return memnode.New(nil), nil
	}

	gfixLog.Infof("Connecting to regtest node at %s", cfg.RPCConnect)
	return rpcnode.New(&rpcnode.Config{
		Host: cfg.RPCConnect,
		User: cfg.RPCUser,
		Pass: cfg.RPCPass,
	})
}

// catalog returns the builders selected by cfg.
func catalog(cfg *config) []topology.Builder {
	var builders []topology.Builder
	if cfg.tier.Includes(fixture.TierFunctional) {
		builders = append(builders, topology.Functional()...)
	}
	if cfg.tier.Includes(fixture.TierStress) {
		builders = append(builders, topology.Stress(cfg.StressTarget)...)
	}
	if cfg.profile != nil {
		builders = append(builders, topology.Manual(*cfg.profile)...)
	}
	return builders
}

// seedBudget returns the number of pool outpoints to fund for cfg.
func seedBudget(cfg *config) int {
	n := topology.SeedBudget(cfg.tier, cfg.StressTarget)
	if cfg.profile != nil {
		n += topology.TotalDraw(topology.Manual(*cfg.profile))
	}
	return n
}

// addrCapacity returns how many issued addresses the reuse guard remembers
// for cfg.  Every pool outpoint and every builder output takes a fresh
// address, and the stress builders create fewer than four outputs per unit
// of target.
func addrCapacity(cfg *config) int {
	n := txbuild.DefaultAddrCapacity + seedBudget(cfg)
	if cfg.tier.Includes(fixture.TierStress) {
		n += 4 * cfg.StressTarget
	}
	return n
}

// build runs every selected builder against h and returns the fixture.
// Every broadcast transaction is journaled and the fixture is verified
// against the journal before it is returned.
func build(cfg *config, h *harness.Harness, jrnl *journal.Journal,
	interrupt <-chan struct{}) (*fixture.Fixture, error) {

	builders := catalog(cfg)
	spender := txbuild.NewSpenderSize(h.Node, h.Graph, jrnl, addrCapacity(cfg))

	budget := seedBudget(cfg)
	gfixLog.Infof("Funding %d pool outpoints of %v", budget,
		utxopool.DefaultSeedValue)
	outs, err := utxopool.NewFunder(h, spender, jrnl).Fund(budget,
		utxopool.DefaultSeedValue)
	if err != nil {
		return nil, fmt.Errorf("fund pool: %w", err)
	}

	env := &topology.Env{
		Harness:    h,
		Spender:    spender,
		Compressor: consolidate.New(spender, h),
		Pool:       utxopool.New(outs),
		Tracker:    jrnl,
	}
	results, err := topology.Run(env, builders, interrupt)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].Variant == topology.Fallback {
			gfixLog.Warnf("Scenario %s built as %v: %s",
				results[i].Scenario.Name, results[i].Variant,
				results[i].Reason)
		}
	}

	f := fixture.New(cfg.tier, cfg.StressTarget)
	f.Scenarios = topology.Scenarios(results)
	if err := jrnl.Verify(f); err != nil {
		return nil, err
	}
	gfixLog.Infof("Built %d scenarios from %d transactions in %d blocks "+
		"(%d pool outpoints left)", len(f.Scenarios), spender.Sent(),
		h.BlocksMined(), env.Pool.Len())
	return f, nil
}

// graphfixtureMain is the real main function for graphfixture.  It is
// necessary to work around the fact that deferred functions do not run when
// os.Exit() is called.
func graphfixtureMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := log.InitLogRotator(logFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer log.LogRotator.Close()

	gfixLog.Infof("Version %s", version.String())
	interrupt := interruptListener()

	node, err := newNode(cfg)
	if err != nil {
		gfixLog.Errorf("Unable to reach the node: %v", err)
		return err
	}
	h, err := harness.New(node, cfg.MinerWallet, cfg.GraphWallet)
	if err != nil {
		node.Shutdown()
		gfixLog.Errorf("Unable to set up wallets: %v", err)
		return err
	}
	defer h.TearDown()

	if err := h.SetUp(); err != nil {
		gfixLog.Errorf("Unable to mature coinbase outputs: %v", err)
		return err
	}

	db, err := journal.OpenEngine(cfg.JournalDB, cfg.journalPath())
	if err != nil {
		gfixLog.Errorf("Unable to open the journal: %v", err)
		return err
	}
	jrnl := journal.New(db, node.Network())
	defer func() {
		if err := jrnl.Close(); err != nil {
			gfixLog.Errorf("Unable to close the journal: %v", err)
		}
	}()
	gfixLog.Infof("Journaling to %s (%s)", cfg.journalPath(), cfg.JournalDB)

	f, err := build(cfg, h, jrnl, interrupt)
	if err != nil {
		gfixLog.Errorf("Unable to build the fixture: %v", err)
		return err
	}
	if err := fixture.Write(cfg.FixtureFile, f); err != nil {
		gfixLog.Errorf("Unable to write the fixture: %v", err)
		return err
	}

	if cfg.LabelsDir != "" {
		refs, err := labels.CollectRefs(node, node.Network(), f.Scenarios)
		if err != nil {
			gfixLog.Errorf("Unable to collect label refs: %v", err)
			return err
		}
		if _, err := labels.Generate(cfg.LabelsDir, refs); err != nil {
			gfixLog.Errorf("Unable to write label packs: %v", err)
			return err
		}
	}

	counts, replaced, err := jrnl.Summary()
	if err != nil {
		gfixLog.Errorf("Unable to summarize the journal: %v", err)
		return err
	}
	var live int
	for scenario, n := range counts {
		gfixLog.Debugf("Journaled %d transactions for %s", n, scenario)
		live += n
	}
	gfixLog.Infof("Journal holds %d live and %d replaced transactions",
		live, replaced)
	return nil
}

func main() {
	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := graphfixtureMain(); err != nil {
		os.Exit(1)
	}
}
