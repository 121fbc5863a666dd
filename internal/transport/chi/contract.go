package chi

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
	healthuc "github.com/kailas-cloud/librarian/internal/usecase/health"
	"github.com/kailas-cloud/librarian/internal/usecase/pipeline"
)

// Recommender resolves a free-text query into a recommendation or a decline.
type Recommender interface {
	Resolve(ctx context.Context, req pipeline.Request) (domain.Response, error)
}

// Retriever returns ranked catalog candidates for the debug endpoint.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]book.Candidate, error)
}

// Speaker synthesizes MP3 audio.
type Speaker interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// UsageReporter reports token usage for a period.
type UsageReporter interface {
	GetUsage(ctx context.Context, period domusage.Period) domusage.Report
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
