// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     cmd
// Description: Prints recent turns from the journal
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/bell/internal/bell/events"
)

var (
	historyLimit   int
	historySession string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent turns from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load config", err)
			return err
		}

		journal, err := events.NewJournal(events.JournalConfig{Path: cfg.Journal.Path})
		if err != nil {
			printError("failed to open journal", err)
			return err
		}
		defer journal.Close()

		turns, err := journal.Turns(cmd.Context(), historySession, historyLimit)
		if err != nil {
			printError("failed to query journal", err)
			return err
		}
		printTurns(cmd.OutOrStdout(), turns)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of turns to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "only show turns of this session")
}

func printTurns(w io.Writer, turns []events.TurnRecord) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns recorded")
		return
	}

	// oldest first reads like a conversation
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		fmt.Fprintf(w, "[%s] %s (%s)\n",
			t.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(t.SessionID),
			t.CompletedAt.Sub(t.StartedAt).Round(100*time.Millisecond))
		fmt.Fprintf(w, "  you>  %s\n", t.Transcript)
		fmt.Fprintf(w, "  bell> %s\n", strings.TrimSpace(t.Response))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
