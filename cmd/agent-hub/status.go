package main

import (
	"context"
	"fmt"

	"github.com/agenthub/agent-hub/internal/config"
	"github.com/spf13/cobra"
)

// buildStatusCmd creates the "status" command, a lightweight check that
// configuration loads and every backing connection (Neo4j, the relational
// audit store if configured, and Gemini if an API key is set) is reachable,
// without starting the HTTP server or any background loops.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check connectivity to every configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Printf("config: ok (version %d)\n", cfg.Version)

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backends: %w", err)
	}
	defer func() { _ = gw.shutdown(context.Background()) }()

	fmt.Println("neo4j: ok")
	if gw.relDB != nil {
		fmt.Println("relational audit store: ok")
	} else {
		fmt.Println("relational audit store: disabled")
	}
	if gw.claude != nil {
		fmt.Println("claude provider: ok")
	} else {
		fmt.Println("claude provider: unavailable")
	}
	if gw.gemini != nil {
		fmt.Println("gemini provider: ok")
	} else {
		fmt.Println("gemini provider: not configured")
	}
	return nil
}
