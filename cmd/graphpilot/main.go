// Package main provides the graphpilot CLI: an agentic natural-language
// interface to a read-only graph store.
//
// Ask a single question:
//
//	graphpilot ask --config graphpilot.yaml "who owns the checkout service?"
//
// Start an interactive session:
//
//	graphpilot chat --config graphpilot.yaml
//
// Inspect the audit trail:
//
//	graphpilot audit history --credential team-platform
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphpilot",
		Short: "graphpilot - conversational queries over a graph store",
		Long: `graphpilot drives a turn-based conversation between your question,
an LLM backend, and a read-only DQL query tool, and streams the
agent's progress while it works.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildAskCmd(),
		buildChatCmd(),
		buildAuditCmd(),
	)
	return rootCmd
}
