// Package embeddings supplies the vector side of semantic search: the
// graph backend stores an embedding per episode and scores queries by
// cosine similarity, but never computes a vector itself — that is
// delegated to one of the providers here.
package embeddings

import (
	"context"
	"fmt"
)

// Provider turns text into the vector the graph backend indexes and
// searches against. Implementations must be safe for concurrent use; the
// backend embeds episode content at write time and query text at search
// time from arbitrary goroutines.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Dimension() int
}

// Config selects and configures a provider. Exactly one provider is active
// per gateway; mixing dimensions within one graph would make stored
// vectors incomparable.
type Config struct {
	Provider  string `yaml:"provider"` // "openai" or "ollama"
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

// New constructs the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (expected openai or ollama)", cfg.Provider)
	}
}
