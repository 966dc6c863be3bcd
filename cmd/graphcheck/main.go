// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/graphcheck"
	"github.com/corylabs/graphfixture/internal/log"
	"github.com/corylabs/graphfixture/internal/version"
)

var gchkLog = log.GchkLog

// errMismatch is returned when at least one scenario failed its checks.
var errMismatch = errors.New("graph service does not satisfy the fixture")

// check replays f against the service behind client.
func check(ctx context.Context, client *graphcheck.Client, f *fixture.Fixture) error {
	report, err := graphcheck.Run(ctx, client, f)
	if err != nil {
		return err
	}
	if !report.OK() {
		for _, m := range report.Mismatches {
			for _, problem := range m.Problems {
				gchkLog.Errorf("%s: %s", m.Scenario, problem)
			}
		}
		return errMismatch
	}
	return nil
}

// graphcheckMain is the real main function for graphcheck.  It is necessary
// to work around the fact that deferred functions do not run when os.Exit()
// is called.
func graphcheckMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	gchkLog.Infof("Version %s", version.String())

	f, err := fixture.Load(cfg.FixtureFile)
	if err != nil {
		gchkLog.Errorf("Unable to load fixture %s: %v", cfg.FixtureFile, err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interruptListener():
			cancel()
		case <-ctx.Done():
		}
	}()

	client := graphcheck.NewClient(cfg.Server, cfg.APIToken,
		&http.Client{Timeout: cfg.Timeout})
	if err := check(ctx, client, f); err != nil {
		gchkLog.Errorf("%v", err)
		return err
	}
	gchkLog.Infof("All %d scenarios of %s passed", len(f.Scenarios),
		cfg.FixtureFile)
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := graphcheckMain(); err != nil {
		os.Exit(1)
	}
}
