package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// #region interface
// Embedder turns text into a vector. Implementations must be deterministic
// enough that the same text yields comparably similar vectors across calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion interface

// #region openai
// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder against api.openai.com. baseURL
// overrides the endpoint for local OpenAI-compatible servers; empty keeps
// the default.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: m}
}

// Embed returns the embedding vector for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// #endregion openai
