// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/corylabs/graphfixture/graphcheck"
	"github.com/corylabs/graphfixture/internal/log"
	"github.com/corylabs/graphfixture/internal/version"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "graphcheck.conf"
	defaultLogLevel       = "info"
	defaultServer         = "http://127.0.0.1:3080"
)

var (
	appHomeDir        = btcutil.AppDataDir("graphfixture", false)
	defaultConfigFile = filepath.Join(appHomeDir, defaultConfigFilename)
)

// config defines the configuration options for graphcheck.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel  string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	FixtureFile string        `short:"f" long:"fixturefile" env:"GRAPH_FIXTURE_FILE" description:"Path of the fixture artifact to check"`
	Server      string        `short:"s" long:"server" description:"Base URL of the graph service"`
	APIToken    string        `long:"apitoken" env:"CORY_API_TOKEN" default-mask:"-" description:"Value sent in the X-API-Token header"`
	Timeout     time.Duration `long:"timeout" description:"Timeout of a single graph request"`
}

// loadConfig initializes and parses the config using a config file and
// command line options.  Command line options always take precedence.
func loadConfig(args []string) (*config, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		Server:     defaultServer,
		Timeout:    graphcheck.DefaultTimeout,
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

	if cfg.FixtureFile == "" {
		return fail(fmt.Errorf("%s: --fixturefile is required", funcName))
	}

	u, err := url.Parse(cfg.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		str := "%s: the server [%v] is not an http(s) URL"
		return fail(fmt.Errorf(str, funcName, cfg.Server))
	}

	if cfg.Timeout < time.Second {
		str := "%s: the timeout option may not be less than 1s -- " +
			"parsed [%v]"
		return fail(fmt.Errorf(str, funcName, cfg.Timeout))
	}

	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return fail(fmt.Errorf("%s: %w", funcName, err))
	}

	return &cfg, nil
}
