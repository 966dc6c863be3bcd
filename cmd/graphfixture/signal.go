// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
)

// interruptSignals defines the signals that stop a run.  This may be
// modified during init depending on the platform.
var interruptSignals = []os.Signal{os.Interrupt}

// interruptListener listens for interrupt signals and returns a channel that
// is closed when the first one is received.
func interruptListener() <-chan struct{} {
	c := make(chan struct{})

	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		sig := <-interruptChannel
		gfixLog.Infof("Received signal (%s).  Shutting down...", sig)
		close(c)

		// Further signals are only logged.
		for sig := range interruptChannel {
			gfixLog.Infof("Received signal (%s).  Already shutting down...", sig)
		}
	}()

	return c
}
