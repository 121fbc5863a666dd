package language

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Generator produces a short completion.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error)
}
