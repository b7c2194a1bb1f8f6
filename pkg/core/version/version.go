// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     version
// Description: Build version information
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X github.com/msto63/bell/pkg/core/version.Version=..."
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

// String returns a one-line version description
func String() string {
	return fmt.Sprintf("bell %s (%s, built %s, %s/%s)", Version, Commit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
