// Package main provides the CLI entry point for agent-hub, the memory-
// augmented LLM orchestration gateway.
//
// agent-hub wires a Neo4j-backed context-injection engine to two model
// providers (Claude over the OAuth-authenticated CLI, Gemini over its
// plain REST API) and a set of multi-agent orchestration primitives:
// subagent spawning, parallel execution, maker-checker review, and
// roundtable sessions.
//
// # Basic Usage
//
// Start the server:
//
//	agent-hub serve --config agent-hub.yaml
//
// Run a single agent task from the command line:
//
//	agent-hub run --provider claude --task "summarize this diff"
//
// # Environment Variables
//
//   - AGENT_HUB_CONFIG: path to the configuration file (default: agent-hub.yaml)
//   - GEMINI_API_KEY: Gemini API key, if not set in the config file
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent-hub",
		Short: "agent-hub - memory-augmented LLM orchestration gateway",
		Long: `agent-hub connects Claude and Gemini to a tiered memory engine and a set
of multi-agent orchestration primitives: subagent spawning, parallel
execution, maker-checker review, and roundtable sessions.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildMemoryCmd(),
		buildVariantCmd(),
		buildStatusCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENT_HUB_CONFIG"); p != "" {
		return p
	}
	return "agent-hub.yaml"
}
