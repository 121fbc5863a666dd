// Package retrieve embeds a query and returns its nearest catalog books.
package retrieve

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// Config bounds k and filters weak matches.
type Config struct {
	DefaultK int
	MaxK     int
	// RelevanceFloor drops candidates scoring below it. Zero disables it.
	RelevanceFloor float64
}

// Service is the retriever.
type Service struct {
	embedder Embedder
	searcher Searcher
	cfg      Config
}

// New creates a retriever. Unset bounds fall back to k=3, max 20.
func New(e Embedder, s Searcher, cfg Config) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 3
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 20
	}
	if cfg.DefaultK > cfg.MaxK {
		cfg.DefaultK = cfg.MaxK
	}
	return &Service{embedder: e, searcher: s, cfg: cfg}
}

// ResolveK returns the default k for 0 and validates anything else.
func (s *Service) ResolveK(k int) (int, error) {
	if k == 0 {
		return s.cfg.DefaultK, nil
	}
	if k < 1 || k > s.cfg.MaxK {
		return 0, domain.NewMalformed("k", "must be between 1 and "+strconv.Itoa(s.cfg.MaxK))
	}
	return k, nil
}

// Retrieve returns up to k candidates by descending similarity, minus those
// under the relevance floor. The result may be empty; an empty catalog is
// domain.ErrCatalogEmpty.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]book.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewMalformed("query", "is required")
	}
	k, err := s.ResolveK(k)
	if err != nil {
		return nil, err
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cands, err := s.searcher.Search(ctx, emb.Embedding, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	kept := make([]book.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score >= s.cfg.RelevanceFloor {
			kept = append(kept, c)
		}
	}

	if dropped := len(cands) - len(kept); dropped > 0 {
		logger.FromContext(ctx).Debug("Candidates below relevance floor",
			zap.Int("dropped", dropped),
			zap.Float64("floor", s.cfg.RelevanceFloor),
		)
	}
	return kept, nil
}
