package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// openAIDimensions maps the embedding models we accept to their vector
// width. Unknown models are rejected at construction rather than defaulted,
// since a wrong dimension silently corrupts every similarity score.
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAI embeds via the OpenAI embeddings API.
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAI constructs an OpenAI embedder. baseURL overrides the API host
// for proxies and compatible servers; empty model defaults to
// text-embedding-3-small.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embeddings: openai api key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	dimension, ok := openAIDimensions[model]
	if !ok {
		return nil, fmt.Errorf("embeddings: unknown openai embedding model %q", model)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: model, dimension: dimension}, nil
}

func (o *OpenAI) Name() string   { return "openai" }
func (o *OpenAI) Dimension() int { return o.dimension }

// Embed requests one embedding.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings: openai returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}
