package domain

import (
	"context"
	"fmt"
	"strconv"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbeddingModel identifies the model and output size used to build a catalog.
// Ingest and query must agree on it; the catalog records it on activation.
type EmbeddingModel struct {
	Name       string
	Dimensions int
}

// Key returns a stable identifier such as "text-embedding-3-small@1536".
func (m EmbeddingModel) Key() string {
	return m.Name + "@" + strconv.Itoa(m.Dimensions)
}

// Validate checks that the model is fully specified.
func (m EmbeddingModel) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("embedding model name is required")
	}
	if m.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", m.Dimensions)
	}
	return nil
}

// BatchEmbed uses the native batch call when e supports it and falls back to
// one Embed per text otherwise.
func BatchEmbed(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}

	out := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		out.Embeddings[i] = res.Embedding
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}
	return out, nil
}
