package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(Config{Provider: "ollama"})
	if err != nil || p.Name() != "ollama" {
		t.Fatalf("expected ollama provider, got %v, %v", p, err)
	}

	p, err = New(Config{Provider: "openai", APIKey: "test-key"})
	if err != nil || p.Name() != "openai" {
		t.Fatalf("expected openai provider, got %v, %v", p, err)
	}

	if _, err := New(Config{Provider: "word2vec"}); err == nil {
		t.Fatalf("unknown provider must be rejected")
	}
}

func TestNewOpenAIRejectsMissingKeyAndUnknownModel(t *testing.T) {
	if _, err := NewOpenAI("", "", ""); err == nil {
		t.Fatalf("missing api key must be rejected")
	}
	if _, err := NewOpenAI("key", "", "text-embedding-9-huge"); err == nil {
		t.Fatalf("unknown model must be rejected, not defaulted")
	}
}

func TestOpenAIDimensionPerModel(t *testing.T) {
	small, _ := NewOpenAI("key", "", "")
	if small.Dimension() != 1536 {
		t.Fatalf("default model dimension = %d, want 1536", small.Dimension())
	}
	large, _ := NewOpenAI("key", "", "text-embedding-3-large")
	if large.Dimension() != 3072 {
		t.Fatalf("large model dimension = %d, want 3072", large.Dimension())
	}
}

func TestOpenAIEmbedAgainstFakeServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	p, err := NewOpenAI("test-key", server.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec, err := p.Embed(context.Background(), "all i/o is async")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestOllamaEmbedAgainstFakeServer(t *testing.T) {
	var gotModel, gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel, gotPrompt = req["model"], req["prompt"]
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2}})
	}))
	defer server.Close()

	p := NewOllama(server.URL, "mxbai-embed-large")
	vec, err := p.Embed(context.Background(), "query text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || gotModel != "mxbai-embed-large" || gotPrompt != "query text" {
		t.Fatalf("request/response mismatch: vec=%v model=%q prompt=%q", vec, gotModel, gotPrompt)
	}
	if p.Dimension() != 1024 {
		t.Fatalf("mxbai dimension = %d, want 1024", p.Dimension())
	}
}

func TestOllamaEmbedSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewOllama(server.URL, "")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
}

func TestOllamaDefaults(t *testing.T) {
	p := NewOllama("", "")
	if p.baseURL != "http://localhost:11434" || p.model != "nomic-embed-text" {
		t.Fatalf("unexpected defaults: %q %q", p.baseURL, p.model)
	}
	if p.Dimension() != 768 {
		t.Fatalf("nomic dimension = %d, want 768", p.Dimension())
	}
}
