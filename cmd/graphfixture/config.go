// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/internal/log"
	"github.com/corylabs/graphfixture/internal/version"
	"github.com/corylabs/graphfixture/journal"
	"github.com/corylabs/graphfixture/topology"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "graphfixture.conf"
	defaultLogFilename    = "graphfixture.log"
	defaultLogDirname     = "logs"
	defaultJournalDirname = "journal"
	defaultLogLevel       = "info"
	defaultRPCConnect     = "127.0.0.1:18443"
	defaultTier           = string(fixture.TierAll)

	// minStressTarget is the shortest chain the stress builders make.
	minStressTarget = 2
)

var (
	appHomeDir        = btcutil.AppDataDir("graphfixture", false)
	defaultConfigFile = filepath.Join(appHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(appHomeDir, "data")
	defaultLogDir     = filepath.Join(appHomeDir, defaultLogDirname)
)

// config defines the configuration options for graphfixture.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile   string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir      string `short:"b" long:"datadir" description:"Directory to store the journal and default fixture"`
	LogDir       string `long:"logdir" description:"Directory to log output"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	RPCConnect   string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the regtest node RPC server"`
	RPCUser      string `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass      string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	SimNet       bool   `long:"simnet" description:"Build against an in-memory regtest node instead of connecting to one"`
	MinerWallet  string `long:"walletminer" env:"WALLET_MINER" description:"Wallet that receives block rewards and funds the pool"`
	GraphWallet  string `long:"walletgraph" env:"WALLET_GRAPH" description:"Wallet that owns every scenario output"`
	Tier         string `long:"tier" env:"GRAPH_SCENARIO_TIER" description:"Scenarios to build {all, functional, stress}"`
	StressTarget int    `long:"stresstarget" env:"GRAPH_STRESS_TX_TARGET" description:"Size of the stress scenarios"`
	Profile      string `long:"profile" description:"Also build the manual catalog sized by this profile {fast, balanced, rich}"`
	FixtureFile  string `short:"o" long:"fixturefile" env:"GRAPH_FIXTURE_FILE" description:"Path of the fixture artifact (default: <datadir>/regtest_graph_fixture-<unix time>.json)"`
	JournalDB    string `long:"journaldb" description:"Database backend of the construction journal {leveldb, pebble}"`
	LabelsDir    string `long:"labels" description:"Write BIP-329 label packs for the built scenarios under this directory"`

	tier    fixture.Tier
	profile *topology.Profile
	runID   int64
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(appHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validJournalDB returns whether dbType names a supported journal backend.
func validJournalDB(dbType string) bool {
	for _, knownType := range journal.SupportedTypes {
		if dbType == knownType {
			return true
		}
	}
	return false
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// Environment variables named in the option tags fill options that are not
// given on the command line.  Command line options always take precedence.
func loadConfig(args []string) (*config, error) {
	// Default config.
	cfg := config{
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		RPCConnect:   defaultRPCConnect,
		MinerWallet:  harness.DefaultMinerWallet,
		GraphWallet:  harness.DefaultGraphWallet,
		Tier:         defaultTier,
		StressTarget: topology.DefaultStressTarget,
		JournalDB:    journal.TypeLevelDB,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		os.Exit(0)
	}

	funcName := "loadConfig"
	fail := func(err error) (*config, error) {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	cfg.tier, err = fixture.ParseTier(cfg.Tier)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", funcName, err))
	}

	if cfg.tier.Includes(fixture.TierStress) && cfg.StressTarget < minStressTarget {
		str := "%s: the stress target must be at least %d -- parsed [%d]"
		return fail(fmt.Errorf(str, funcName, minStressTarget,
			cfg.StressTarget))
	}

	if cfg.Profile != "" {
		if !cfg.tier.Includes(fixture.TierFunctional) {
			str := "%s: --profile adds functional scenarios and " +
				"can not be used with tier [%s]"
			return fail(fmt.Errorf(str, funcName, cfg.tier))
		}
		profile, err := topology.ParseProfile(cfg.Profile)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", funcName, err))
		}
		cfg.profile = &profile
	}

	if !validJournalDB(cfg.JournalDB) {
		str := "%s: the specified journal database [%v] is invalid -- " +
			"supported types %v"
		return fail(fmt.Errorf(str, funcName, cfg.JournalDB,
			journal.SupportedTypes))
	}

	if cfg.MinerWallet == "" || cfg.GraphWallet == "" {
		str := "%s: the miner and graph wallet names must not be empty"
		return fail(fmt.Errorf(str, funcName))
	}
	if cfg.MinerWallet == cfg.GraphWallet {
		str := "%s: the miner and graph wallets must differ -- both " +
			"are [%s]"
		return fail(fmt.Errorf(str, funcName, cfg.MinerWallet))
	}

	if !cfg.SimNet && (cfg.RPCUser == "" || cfg.RPCPass == "") {
		str := "%s: --rpcuser and --rpcpass are required unless " +
			"--simnet is set"
		return fail(fmt.Errorf(str, funcName))
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LabelsDir = cleanAndExpandPath(cfg.LabelsDir)
	cfg.runID = time.Now().Unix()
	if cfg.FixtureFile == "" {
		cfg.FixtureFile = filepath.Join(cfg.DataDir, fmt.Sprintf(
			"regtest_graph_fixture-%d.json", cfg.runID))
	}
	cfg.FixtureFile = cleanAndExpandPath(cfg.FixtureFile)

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return fail(fmt.Errorf("%s: %w", funcName, err))
	}

	return &cfg, nil
}

// journalPath returns the directory of the construction journal.  Every run
// journals into its own database.
func (cfg *config) journalPath() string {
	return filepath.Join(cfg.DataDir, defaultJournalDirname,
		fmt.Sprintf("%s-%d", cfg.JournalDB, cfg.runID))
}
