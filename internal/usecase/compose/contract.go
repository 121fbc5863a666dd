package compose

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Generator produces text.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error)
}
