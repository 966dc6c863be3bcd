// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package log wires the subsystem loggers of every graphfixture package to
// one backend writing to standard output and a rotating log file.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btclog"
	"github.com/corylabs/graphfixture/consolidate"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/graphcheck"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/harness/memnode"
	"github.com/corylabs/graphfixture/harness/rpcnode"
	"github.com/corylabs/graphfixture/journal"
	"github.com/corylabs/graphfixture/labels"
	"github.com/corylabs/graphfixture/topology"
	"github.com/corylabs/graphfixture/txbuild"
	"github.com/corylabs/graphfixture/utxopool"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if LogRotator != nil {
		LogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsystem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// SubsystemLoggers map.
//
// Output only reaches a file once InitLogRotator has been called.  Until
// then it goes to standard output alone.
var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// LogRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	LogRotator *rotator.Rotator

	GfixLog = backendLog.Logger("GFIX")
	GchkLog = backendLog.Logger("GCHK")
	cnslLog = backendLog.Logger("CNSL")
	fxtrLog = backendLog.Logger("FXTR")
	hrnsLog = backendLog.Logger("HRNS")
	jrnlLog = backendLog.Logger("JRNL")
	lablLog = backendLog.Logger("LABL")
	mnodLog = backendLog.Logger("MNOD")
	poolLog = backendLog.Logger("POOL")
	rpccLog = backendLog.Logger("RPCC")
	rpcnLog = backendLog.Logger("RPCN")
	spndLog = backendLog.Logger("SPND")
	topoLog = backendLog.Logger("TOPO")
)

// Initialize package-global logger variables.
func init() {
	consolidate.UseLogger(cnslLog)
	fixture.UseLogger(fxtrLog)
	graphcheck.UseLogger(GchkLog)
	harness.UseLogger(hrnsLog)
	journal.UseLogger(jrnlLog)
	labels.UseLogger(lablLog)
	memnode.UseLogger(mnodLog)
	utxopool.UseLogger(poolLog)
	rpcclient.UseLogger(rpccLog)
	rpcnode.UseLogger(rpcnLog)
	txbuild.UseLogger(spndLog)
	topology.UseLogger(topoLog)
}

// SubsystemLoggers maps each subsystem identifier to its associated logger.
var SubsystemLoggers = map[string]btclog.Logger{
	"GFIX": GfixLog,
	"GCHK": GchkLog,
	"CNSL": cnslLog,
	"FXTR": fxtrLog,
	"HRNS": hrnsLog,
	"JRNL": jrnlLog,
	"LABL": lablLog,
	"MNOD": mnodLog,
	"POOL": poolLog,
	"RPCC": rpccLog,
	"RPCN": rpcnLog,
	"SPND": spndLog,
	"TOPO": topoLog,
}

// InitLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	LogRotator = r
	return nil
}

// SetLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := SubsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range SubsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(SubsystemLoggers))
	for subsysID := range SubsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// ValidLogLevel returns whether or not logLevel is a valid debug log level.
func ValidLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func ParseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !ValidLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		SetLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an " +
				"invalid format [subsystem=level]")
		}

		subsysID, logLevel := fields[0], fields[1]
		if _, exists := SubsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				SupportedSubsystems())
		}
		if !ValidLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		SetLogLevel(subsysID, logLevel)
	}

	return nil
}
