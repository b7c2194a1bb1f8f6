// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     main
// Description: bell command entry point
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package main

import (
	"os"

	"github.com/msto63/bell/cmd/bell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
