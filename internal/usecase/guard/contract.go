package guard

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Moderator flags abusive text.
type Moderator interface {
	Moderate(ctx context.Context, text string) (domain.ModerationResult, error)
}

// Classifier classifies query intent.
type Classifier interface {
	Classify(ctx context.Context, query string) (domain.Classification, error)
}

// NameLister lists the catalog names an entity can match.
type NameLister interface {
	Titles(ctx context.Context) ([]string, error)
	Authors(ctx context.Context) ([]string, error)
}

// Matcher compares an entity against candidate names.
type Matcher interface {
	Find(entity string, candidates []string) (string, bool)
}
