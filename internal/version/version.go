/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/curie/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// Commit is the git revision, also set via ldflags.
var Commit = "unknown"

// String formats version, commit and Go runtime for the CLI.
func String() string {
	return fmt.Sprintf("curie %s (%s, %s)", Version, Commit, runtime.Version())
}
