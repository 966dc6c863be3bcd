// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !windows && !plan9

package limits

import (
	"fmt"
	"syscall"
)

const (
	// fileLimitWant is the open file limit requested for the journal
	// database and the log rotator.
	fileLimitWant = 2048

	// fileLimitMin is the lowest limit the commands run with.
	fileLimitMin = 1024
)

// SetLimits raises the open file limit of the process to fileLimitWant, or
// as close to it as the hard limit allows.
func SetLimits() error {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}
	if rLimit.Cur >= fileLimitWant {
		return nil
	}
	if rLimit.Max < fileLimitMin {
		return fmt.Errorf("need at least %v file descriptors, hard "+
			"limit is %v", fileLimitMin, rLimit.Max)
	}

	rLimit.Cur = fileLimitWant
	if rLimit.Max < fileLimitWant {
		rLimit.Cur = rLimit.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		// Fall back to the minimum.
		rLimit.Cur = fileLimitMin
		return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	}
	return nil
}
