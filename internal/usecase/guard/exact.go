package guard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// ExactMatchGuard refuses substitutes when the user asks for a specific
// title, author or person the catalog does not hold.
type ExactMatchGuard struct {
	names   NameLister
	matcher Matcher
}

// NewExactMatch creates an ExactMatchGuard.
func NewExactMatch(names NameLister, m Matcher) *ExactMatchGuard {
	return &ExactMatchGuard{names: names, matcher: m}
}

// Evaluate is a no-op unless the classification demands an exact match.
func (g *ExactMatchGuard) Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict {
	c := qc.Classification
	if !c.MustExactMatch || !c.Entity.IsSpecific() {
		return domain.Continue()
	}

	names, err := g.candidates(ctx, c.Entity.Type)
	if err != nil {
		if errors.Is(err, domain.ErrCatalogEmpty) {
			return domain.Verdict{Decline: domain.DeclineAbsentEntity, Entity: c.Entity.Text}
		}
		return failed(err)
	}

	if hit, ok := g.matcher.Find(c.Entity.Text, names); ok {
		logger.FromContext(ctx).Debug("Entity found in catalog",
			zap.String("entity", c.Entity.Text), zap.String("match", hit))
		return domain.Continue()
	}
	return domain.Verdict{Decline: domain.DeclineAbsentEntity, Entity: c.Entity.Text}
}

// candidates returns the names an entity of typ may match: titles for a
// title, authors for an author, authors then titles for a person (a book
// about someone).
func (g *ExactMatchGuard) candidates(ctx context.Context, typ domain.EntityType) ([]string, error) {
	var names []string
	if typ == domain.EntityAuthor || typ == domain.EntityPerson {
		authors, err := g.names.Authors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list authors: %w", err)
		}
		names = append(names, authors...)
	}
	if typ == domain.EntityTitle || typ == domain.EntityPerson {
		titles, err := g.names.Titles(ctx)
		if err != nil {
			return nil, fmt.Errorf("list titles: %w", err)
		}
		names = append(names, titles...)
	}
	return names, nil
}

// failed maps an error onto the matching decline.
func failed(err error) domain.Verdict {
	if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		return domain.Verdict{Decline: domain.DeclineQuotaExceeded, Err: err}
	}
	return domain.Failed(err)
}
