package main

import (
	"fmt"

	"github.com/agenthub/agent-hub/internal/memory"
	"github.com/spf13/cobra"
)

// buildVariantCmd creates the "variant" command group for debugging the
// deterministic A/B assignment without touching any backend.
func buildVariantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variant",
		Short: "Inspect scoring-variant assignment",
	}
	cmd.AddCommand(buildVariantAssignCmd())
	return cmd
}

func buildVariantAssignCmd() *cobra.Command {
	var override string

	cmd := &cobra.Command{
		Use:   "assign <external-id> <project-id>",
		Short: "Show which scoring variant a (external-id, project-id) pair hashes into",
		Example: `  agent-hub variant assign task-42 proj-X
  agent-hub variant assign task-42 proj-X --override AGGRESSIVE`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overridePtr *memory.Variant
			if override != "" {
				v := memory.Variant(override)
				overridePtr = &v
			}
			variant := memory.AssignVariant(args[0], args[1], overridePtr)
			cfg := memory.GetVariantConfig(variant, nil)
			fmt.Printf("%s (threshold %.2f, weights sem=%.2f use=%.2f conf=%.2f rec=%.2f)\n",
				variant, cfg.MinRelevanceThreshold,
				cfg.Weights.Semantic, cfg.Weights.Usage, cfg.Weights.Confidence, cfg.Weights.Recency)
			return nil
		},
	}
	cmd.Flags().StringVar(&override, "override", "", "Pin a variant instead of hashing (BASELINE, ENHANCED, MINIMAL, AGGRESSIVE)")
	return cmd
}
