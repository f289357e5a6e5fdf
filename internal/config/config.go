package config

import (
	"fmt"
	"time"

	"github.com/agenthub/agent-hub/internal/memory/embeddings"
)

// Config is the top-level application configuration for agent-hub. It is
// loaded from YAML/JSON5 (with $include support, see loader.go), env-var
// expanded, and strictly decoded — unknown fields are rejected so a typo
// in an operator's config file fails fast instead of silently no-op'ing.
type Config struct {
	Version       int                 `yaml:"version"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Memory        MemoryConfig        `yaml:"memory"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Observability ObservabilityConfig `yaml:"observability"`
	Session       SessionConfig       `yaml:"session"`
}

// ProvidersConfig configures the two backing model providers.
type ProvidersConfig struct {
	Claude ClaudeProviderConfig `yaml:"claude"`
	Gemini GeminiProviderConfig `yaml:"gemini"`
}

// ClaudeProviderConfig configures the OAuth-CLI-backed adapter. There is
// no API key here by design — the adapter refuses to start unless the CLI
// binary is present and already authenticated.
type ClaudeProviderConfig struct {
	// CLIPath overrides the discovered path to the installed Claude CLI
	// binary. Empty means "search $PATH".
	CLIPath string `yaml:"cli_path"`

	// DefaultModel is used when a caller does not name one explicitly.
	DefaultModel string `yaml:"default_model"`
}

// GeminiProviderConfig configures the plain-REST API-key-backed adapter.
type GeminiProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// MemoryConfig configures the memory/context-injection engine: where the
// graph+vector backend and the relational audit store live, and the
// token-budget / flush-cadence tuning knobs for progressive disclosure.
type MemoryConfig struct {
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jDatabase string `yaml:"neo4j_database"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`

	// Embeddings selects and configures the vector-similarity backend
	// used for semantic search over stored episodes.
	Embeddings embeddings.Config `yaml:"embeddings"`

	// RelationalDSN is the audit/usage-log store (usage_stats,
	// tier_change_log, memory_injection_metrics). Empty disables
	// relational logging; the graph remains the source of truth.
	RelationalDSN string `yaml:"relational_dsn"`

	// TokenBudget is the default progressive-disclosure budget,
	// typically 2000-3500; callers may override per request.
	TokenBudget int `yaml:"token_budget"`

	// FlushInterval is the usage-buffer flush cadence, bounded at 60s;
	// defaults to 30s (DefaultFlushInterval).
	FlushInterval time.Duration `yaml:"flush_interval"`

	// IndexTTL is the adaptive-index cache TTL, defaults to 300s.
	IndexTTL time.Duration `yaml:"index_ttl"`

	// VariantOverride short-circuits the hash-bucket assignment
	// when set to one of BASELINE/ENHANCED/MINIMAL/AGGRESSIVE.
	VariantOverride string `yaml:"variant_override"`

	// TierOptimizerCron is the cron schedule on which the periodic
	// demotion/promotion pass runs. Defaults to hourly.
	TierOptimizerCron string `yaml:"tier_optimizer_cron"`

	// ClusteringModel names the cheap LLM model used to classify
	// rephrase-vs-variation pairs.
	ClusteringModel string `yaml:"clustering_model"`

	// SummarizerModel names the model used for learning extraction.
	SummarizerModel string `yaml:"summarizer_model"`
}

// OrchestrationConfig configures the higher-level multi-agent primitives:
// subagent spawning, parallel execution, maker-checker review, and
// roundtable sessions.
type OrchestrationConfig struct {
	SubagentTimeout    time.Duration `yaml:"subagent_timeout"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	MakerCheckerRounds int           `yaml:"maker_checker_rounds"`
	RoundtableRounds   int           `yaml:"roundtable_rounds"`
}

// SessionConfig configures the per-session local state file.
type SessionConfig struct {
	// AppName names the dotfile directory, e.g. "agent-hub" resolves to
	// ~/.agent-hub/.graphiti_state.json for the default session.
	AppName string `yaml:"app_name"`
}

// ObservabilityConfig configures logging, tracing, and metrics, each as
// its own nested struct so a config file only needs to override the
// concern it cares about.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults applies documented defaults to any zero-valued field. Defaults
// are applied after decode rather than via struct tags, since yaml.v3
// doesn't support them.
func (c *Config) Defaults() {
	if c.Memory.TokenBudget == 0 {
		c.Memory.TokenBudget = 2000
	}
	if c.Memory.FlushInterval == 0 {
		c.Memory.FlushInterval = 30 * time.Second
	}
	if c.Memory.IndexTTL == 0 {
		c.Memory.IndexTTL = 300 * time.Second
	}
	if c.Memory.TierOptimizerCron == "" {
		c.Memory.TierOptimizerCron = "0 * * * *"
	}
	if c.Memory.Neo4jDatabase == "" {
		c.Memory.Neo4jDatabase = "neo4j"
	}
	if c.Memory.Embeddings.Provider == "" {
		c.Memory.Embeddings.Provider = "ollama"
	}
	if c.Orchestration.SubagentTimeout == 0 {
		c.Orchestration.SubagentTimeout = 300 * time.Second
	}
	if c.Orchestration.MaxConcurrency == 0 {
		c.Orchestration.MaxConcurrency = 5
	}
	if c.Orchestration.MakerCheckerRounds == 0 {
		c.Orchestration.MakerCheckerRounds = 3
	}
	if c.Session.AppName == "" {
		c.Session.AppName = "agent-hub"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "json"
	}
}

// Load reads, merges $include directives, env-expands, and strictly
// decodes a config file, then validates its version and applies defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	cfg.Defaults()
	return cfg, nil
}
