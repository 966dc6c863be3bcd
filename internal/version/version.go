// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version holds the version of the graphfixture and graphcheck
// commands.
package version

import (
	"fmt"
	"strings"
)

// semanticAlphabet is the set of characters allowed in the pre-release and
// build portions of a semantic version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// These constants define the application version and follow the semantic
// versioning 2.0.0 rules (http://semver.org/).
const (
	Major uint = 0
	Minor uint = 3
	Patch uint = 0
)

var (
	// PreRelease may be overridden at link time with
	// '-ldflags "-X github.com/corylabs/graphfixture/internal/version.PreRelease=rc1"'.
	PreRelease = ""

	// BuildMetadata may be overridden at link time the same way.
	BuildMetadata = "dev"
)

// String returns the application version as a semantic version string.
// Pre-release and build parts are dropped of any invalid characters and
// omitted when empty.
func String() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if pre := normalize(PreRelease); pre != "" {
		version += "-" + pre
	}
	if build := normalize(BuildMetadata); build != "" {
		version += "+" + build
	}
	return version
}

func normalize(str string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(semanticAlphabet, r) {
			return r
		}
		return -1
	}, str)
}
