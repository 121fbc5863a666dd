package ingest

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

// Catalog is the write side of the catalog store.
type Catalog interface {
	NewGeneration() string
	Prepare(ctx context.Context, gen string) error
	Upsert(ctx context.Context, gen string, records []book.Record) error
	Activate(ctx context.Context, gen string, count int) (string, error)
	Drop(ctx context.Context, gen string) error
}

// Embedder vectorizes batches of texts.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
