// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     cmd
// Description: Root command, persistent flags and configuration loading
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/bell/pkg/core/config"
	"github.com/msto63/bell/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bell",
	Short: "bell - hands-free turn-taking voice sessions",
	Long: `bell listens to the microphone, detects when you stop speaking and
runs each utterance through speech-to-text, a language model and
text-to-speech.

Commands:
  run       - live microphone session
  simulate  - replay a WAV file through a session
  devices   - list audio input devices
  history   - show recent turns from the journal`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $BELL_CONFIG or ./configs/bell.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the configuration and applies the logging defaults
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if verbose {
		level = "debug"
	}
	logging.SetDefaults(level, cfg.General.LogFormat, os.Stderr)
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
