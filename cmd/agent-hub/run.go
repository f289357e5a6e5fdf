package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agenthub/agent-hub/internal/agentrunner"
	"github.com/agenthub/agent-hub/internal/config"
	"github.com/agenthub/agent-hub/pkg/models"
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command, which drives a single task
// through one provider's agentic loop and prints the result — useful for
// scripting and for exercising the memory-injection path without standing
// up the full server.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		model      string
		task       string
		projectID  string
		useMemory  bool
		maxTurns   int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single agent task",
		Long: `Run a single task through one provider's agentic loop.

With --memory, the first turn is augmented with mandates, guardrails, and
reference material retrieved from the project's (or the global) scope
before the task is sent to the model.`,
		Example: `  agent-hub run --provider claude --task "summarize the open PRs"
  agent-hub run --provider gemini --project acme-web --memory --task "add a retry to the fetch client"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), configPath, provider, model, task, projectID, useMemory, maxTurns)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&provider, "provider", "claude", "Provider to run against: claude or gemini")
	cmd.Flags().StringVar(&model, "model", "", "Model override; empty uses the provider's configured default")
	cmd.Flags().StringVar(&task, "task", "", "Task prompt (required)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project scope id; empty scopes to global")
	cmd.Flags().BoolVar(&useMemory, "memory", false, "Inject memory context on the first turn")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the agentic loop's turn ceiling")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func runTask(ctx context.Context, configPath, provider, model, task, projectID string, useMemory bool, maxTurns int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() {
		shutdownCtx := context.Background()
		_ = gw.shutdown(shutdownCtx)
	}()

	scope := models.Scope{Kind: models.ScopeGlobal}
	if projectID != "" {
		scope = models.Scope{Kind: models.ScopeProject, ID: projectID}
	}

	agentCfg := agentrunner.AgentConfig{
		Provider:      provider,
		Model:         model,
		MaxTurns:      maxTurns,
		ProjectID:     projectID,
		UseMemory:     useMemory,
		MemoryGroupID: scope.GroupID(),
	}

	result := gw.runner.Run(ctx, task, agentCfg, nil)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))

	if result.Status == "error" {
		return fmt.Errorf("agent run failed: %s", result.Error)
	}
	return nil
}
