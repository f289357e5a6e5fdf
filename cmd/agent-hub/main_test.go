package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "run", "memory", "status"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestMemoryCmdIncludesSubcommands(t *testing.T) {
	cmd := buildMemoryCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"ingest", "rate"} {
		if !names[name] {
			t.Fatalf("expected memory subcommand %q to be registered", name)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("AGENT_HUB_CONFIG", "")
	if got := defaultConfigPath(); got != "agent-hub.yaml" {
		t.Fatalf("expected default config path agent-hub.yaml, got %q", got)
	}

	t.Setenv("AGENT_HUB_CONFIG", "/etc/agent-hub/custom.yaml")
	if got := defaultConfigPath(); got != "/etc/agent-hub/custom.yaml" {
		t.Fatalf("expected env override, got %q", got)
	}
}
