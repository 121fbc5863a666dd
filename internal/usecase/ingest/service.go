// Package ingest builds a new catalog generation from raw book records and
// swaps it in.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// Embedding sources.
const (
	SourceSummary  = "summary"
	SourceDocument = "document"
)

// ErrNoRecords is returned when nothing survives validation.
var ErrNoRecords = errors.New("no valid records")

// Config controls a run.
type Config struct {
	BatchSize int
	// Source is SourceSummary or SourceDocument.
	Source  string
	KeepOld bool
	DryRun  bool
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Generation string
	Previous   string
	Read       int
	Skipped    int
	Duplicates int
	Ingested   int
	Tokens     int
	DryRun     bool
}

// Service runs ingestion.
type Service struct {
	catalog  Catalog
	embedder Embedder
	cfg      Config
}

// New creates a Service.
func New(c Catalog, e Embedder, cfg Config) (*Service, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	switch cfg.Source {
	case "":
		cfg.Source = SourceSummary
	case SourceSummary, SourceDocument:
	default:
		return nil, fmt.Errorf("unknown embedding source %q", cfg.Source)
	}
	return &Service{catalog: c, embedder: e, cfg: cfg}, nil
}

// Run validates, embeds and activates records as a new generation.
// The previous generation is dropped unless KeepOld is set.
func (s *Service) Run(ctx context.Context, raw []RawRecord) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Read: len(raw), DryRun: s.cfg.DryRun}
	log := logger.FromContext(ctx).With(zap.String("run_id", rep.RunID))

	books := s.prepare(ctx, raw, &rep)
	if len(books) == 0 {
		return rep, ErrNoRecords
	}
	if s.cfg.DryRun {
		rep.Ingested = len(books)
		log.Info("Dry run complete", zap.Int("valid", len(books)), zap.Int("skipped", rep.Skipped), zap.Int("duplicates", rep.Duplicates))
		return rep, nil
	}

	gen := s.catalog.NewGeneration()
	rep.Generation = gen
	if err := s.catalog.Prepare(ctx, gen); err != nil {
		return rep, fmt.Errorf("prepare %s: %w", gen, err)
	}

	stored, err := s.load(ctx, gen, books, &rep)
	if err != nil {
		if dropErr := s.catalog.Drop(ctx, gen); dropErr != nil {
			log.Warn("Failed to drop incomplete generation", zap.String("generation", gen), zap.Error(dropErr))
		}
		return rep, err
	}

	prev, err := s.catalog.Activate(ctx, gen, stored)
	if err != nil {
		return rep, fmt.Errorf("activate %s: %w", gen, err)
	}
	rep.Previous = prev
	rep.Ingested = stored

	metrics.CatalogSize.WithLabelValues(gen).Set(float64(stored))
	if prev != "" {
		metrics.CatalogSize.DeleteLabelValues(prev)
		if !s.cfg.KeepOld {
			if err := s.catalog.Drop(ctx, prev); err != nil {
				log.Warn("Failed to drop previous generation", zap.String("generation", prev), zap.Error(err))
			}
		}
	}

	log.Info("Catalog generation activated",
		zap.String("generation", gen),
		zap.String("previous", prev),
		zap.Int("books", stored),
		zap.Int("tokens", rep.Tokens),
	)
	return rep, nil
}

// prepare skips invalid records and records whose book id is already taken
// (same title up to case, first wins), and fixes the embedding source of
// each book. Every returned book has a distinct id.
func (s *Service) prepare(ctx context.Context, raw []RawRecord, rep *Report) []book.Book {
	log := logger.FromContext(ctx)
	seen := make(map[string]string, len(raw))
	out := make([]book.Book, 0, len(raw))

	for i, r := range raw {
		b, err := book.New(r.Title, r.Summary, r.Themes, r.Author)
		if err != nil {
			rep.Skipped++
			log.Debug("Skipping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		id := b.ID()
		if first, dup := seen[id]; dup {
			rep.Duplicates++
			log.Debug("Skipping duplicate title", zap.String("title", b.Title()), zap.String("kept", first))
			continue
		}
		seen[id] = b.Title()

		src := b.Summary()
		if s.cfg.Source == SourceDocument {
			src = b.Document()
		}
		out = append(out, b.WithEmbeddingSource(src))
	}
	return out
}

// load embeds and upserts books batch by batch and returns the number of
// distinct ids written.
func (s *Service) load(ctx context.Context, gen string, books []book.Book, rep *Report) (int, error) {
	ids := make(map[string]struct{}, len(books))
	for start := 0; start < len(books); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(books))
		batch := books[start:end]

		texts := make([]string, len(batch))
		for i, b := range batch {
			texts[i] = b.EmbeddingSource()
		}
		res, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(res.Embeddings) != len(batch) {
			return 0, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(res.Embeddings), len(batch))
		}
		rep.Tokens += res.TotalTokens

		records := make([]book.Record, len(batch))
		for i, b := range batch {
			records[i] = book.Record{Book: b, Vector: res.Embeddings[i]}
		}
		if err := s.catalog.Upsert(ctx, gen, records); err != nil {
			return 0, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		for _, b := range batch {
			ids[b.ID()] = struct{}{}
		}
		logger.FromContext(ctx).Debug("Batch ingested", zap.Int("from", start), zap.Int("to", end))
	}
	return len(ids), nil
}
