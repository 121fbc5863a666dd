package pipeline

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
)

// Guard inspects and annotates a query, then lets it continue or declines it.
type Guard interface {
	Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict
}

// LanguageDetector guesses the query language. It never fails.
type LanguageDetector interface {
	Detect(ctx context.Context, query string) domain.Language
	Fallback() domain.Language
}

// Retriever returns nearest candidates for a query.
type Retriever interface {
	ResolveK(k int) (int, error)
	Retrieve(ctx context.Context, query string, k int) ([]book.Candidate, error)
}

// Selector picks one candidate title or none.
type Selector interface {
	Select(ctx context.Context, query string, lang domain.Language, cands []book.Candidate) (domain.Choice, bool, error)
}

// Composer renders answers and declines.
type Composer interface {
	Compose(ctx context.Context, b book.Book, query string, lang domain.Language, reason string) (string, error)
	Decline(ctx context.Context, reason domain.DeclineReason, lang domain.Language, entity string) string
}
