package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ollamaDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// Ollama embeds via a local Ollama server's /api/embeddings endpoint, for
// installs that keep the vector side fully on-box.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama constructs an Ollama embedder. Defaults: localhost:11434,
// nomic-embed-text.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Dimension reports the configured model's vector width, 768 for models
// not in the known table (the nomic default).
func (o *Ollama) Dimension() int {
	if d, ok := ollamaDimensions[o.model]; ok {
		return d
	}
	return 768
}

// Embed posts one prompt to the embeddings endpoint.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{"model": o.model, "prompt": text})
	if err != nil {
		return nil, fmt.Errorf("embeddings: ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embeddings: ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings: ollama returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embeddings: ollama: decode response: %w", err)
	}
	return out.Embedding, nil
}
