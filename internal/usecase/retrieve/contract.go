package retrieve

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

// Embedder vectorizes the query.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Searcher performs KNN search over the active catalog.
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]book.Candidate, error)
}
