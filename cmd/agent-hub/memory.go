package main

import (
	"context"
	"fmt"

	"github.com/agenthub/agent-hub/internal/config"
	"github.com/agenthub/agent-hub/internal/memory"
	"github.com/agenthub/agent-hub/pkg/models"
	"github.com/spf13/cobra"
)

// buildMemoryCmd creates the "memory" command group for operating on the
// context-injection engine directly, without going through an agent run.
func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage the memory engine",
	}
	cmd.AddCommand(buildMemoryIngestCmd(), buildMemoryRateCmd(), buildMemoryPromoteCmd(), buildMemoryConsolidateCmd())
	return cmd
}

func buildMemoryIngestCmd() *cobra.Command {
	var (
		configPath string
		content    string
		name       string
		projectID  string
		tier       string
		golden     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a new episode into the memory engine",
		Example: `  agent-hub memory ingest --project acme-web --tier mandate --golden \
    --name "no-raw-sql" --content "Always use the query builder, never raw SQL strings."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryIngest(cmd.Context(), configPath, content, name, projectID, tier, golden)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&content, "content", "", "Episode content (required)")
	cmd.Flags().StringVar(&name, "name", "", "Short human-readable label for this episode")
	cmd.Flags().StringVar(&projectID, "project", "", "Project scope id; empty scopes to global")
	cmd.Flags().StringVar(&tier, "tier", "", "Tier: mandate, guardrail, or reference (default: the profile's own tier)")
	cmd.Flags().BoolVar(&golden, "golden", false, "Mark as a golden standard, routed through canonical clustering")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func runMemoryIngest(ctx context.Context, configPath, content, name, projectID, tier string, golden bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() { _ = gw.shutdown(context.Background()) }()

	scope := models.Scope{Kind: models.ScopeGlobal}
	if projectID != "" {
		scope = models.Scope{Kind: models.ScopeProject, ID: projectID}
	}

	profile := memory.ToolDiscoveryProfile
	if golden {
		profile = memory.GoldenStandardProfile
	}
	switch tier {
	case "":
		// keep the profile's own tier
	case "mandate":
		profile.Tier = models.TierMandate
	case "guardrail":
		if !golden {
			profile = memory.ToolGotchaProfile
		}
		profile.Tier = models.TierGuardrail
	case "reference":
		profile.Tier = models.TierReference
	default:
		return fmt.Errorf("unknown tier %q: expected mandate, guardrail, or reference", tier)
	}

	// Empty source description lets the funnel synthesize the tag string
	// from the profile, so --golden carries source:golden_standard
	// confidence:100 instead of a hand-written literal.
	result, err := gw.memoryManager.Ingest(ctx, content, name, profile, scope, "")
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("ingest rejected: %s", result.ValidationError)
	}
	if result.Deduplicated {
		fmt.Printf("deduplicated against existing episode %s\n", result.UUID)
	} else {
		fmt.Printf("ingested episode %s\n", result.UUID)
	}
	return nil
}

func buildMemoryPromoteCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "promote <episode-uuid>",
		Short: "Manually promote a provisional learning to canonical status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryPromote(cmd.Context(), configPath, args[0], reason)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&reason, "reason", "", "Recorded alongside the promotion in the episode's tag string")
	return cmd
}

func runMemoryPromote(ctx context.Context, configPath, episodeUUID, reason string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() { _ = gw.shutdown(context.Background()) }()

	result := gw.memoryManager.Promotion.PromoteLearning(ctx, episodeUUID, reason)
	if !result.Success {
		return fmt.Errorf("promote: %s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}

func buildMemoryConsolidateCmd() *cobra.Command {
	var (
		configPath string
		projectID  string
		summary    string
		failed     bool
	)

	cmd := &cobra.Command{
		Use:   "consolidate <task-id>",
		Short: "Fold a completed task's scoped memory back into project memory",
		Long: `Promotes a successful task's durable episodes (mandates, guardrails) to
project scope and crystallizes the outcome summary. With --failed, preserves
gotchas and deletes the ephemeral reference-tier episodes instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryConsolidate(cmd.Context(), configPath, args[0], projectID, summary, !failed)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&projectID, "project", "", "Project scope the task's memory is promoted into (default: \"default\")")
	cmd.Flags().StringVar(&summary, "summary", "", "Task outcome summary to crystallize alongside promotions")
	cmd.Flags().BoolVar(&failed, "failed", false, "Treat the task as failed: preserve gotchas, delete ephemeral state")
	return cmd
}

func runMemoryConsolidate(ctx context.Context, configPath, taskID, projectID, summary string, success bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() { _ = gw.shutdown(context.Background()) }()

	result := gw.memoryManager.Consolidation.Consolidate(ctx, memory.ConsolidationRequest{
		TaskID: taskID, Success: success, ProjectID: projectID, TaskSummary: summary,
	})
	if !result.Success {
		return fmt.Errorf("consolidate: %s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}

func buildMemoryRateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rate <episode-uuid> <helpful|harmful>",
		Short: "Record usage feedback for an episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryRate(cmd.Context(), configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runMemoryRate(ctx context.Context, configPath, episodeUUID, rating string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() { _ = gw.shutdown(context.Background()) }()

	if err := gw.memoryManager.Rate(episodeUUID, rating); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	fmt.Printf("recorded %s for %s\n", rating, episodeUUID)
	return nil
}
