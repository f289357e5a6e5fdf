package main

import (
	"fmt"
	"os"

	"github.com/agenthub/agent-hub/internal/config"
	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group: operator tooling for
// inspecting the configuration contract without starting anything.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration contract",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

// buildConfigSchemaCmd prints the JSON Schema reflected from Config, so an
// operator's editor or CI linter can validate a YAML/JSON5 file against it
// before agent-hub ever reads it.
func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("config schema: %w", err)
			}
			_, err = os.Stdout.Write(append(schema, '\n'))
			return err
		},
	}
}

// buildConfigValidateCmd loads and strictly decodes a config file without
// connecting to any backend, the fast-fail check for a typo'd field name.
func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and strictly decode a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config: ok (version %d)\n", cfg.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
