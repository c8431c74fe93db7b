// Package main provides the CLI entry point for the agent core reply loop:
// a single-process harness that wires a configured provider, extension
// manager, and approval policy together and drives one Agent.Reply call per
// invocation.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - a reply-loop agent runtime",
		Long: `agentcore drives a single-turn or multi-turn reply loop against a
configured LLM provider, dispatching tool calls to connected extensions.`,
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildRunCmd(),
		buildExtensionsCmd(),
		buildToolsCmd(),
	)
	return rootCmd
}
