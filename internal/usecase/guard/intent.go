package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// IntentGuard declines queries that are not book requests.
type IntentGuard struct {
	classifier Classifier
}

// NewIntent creates an IntentGuard.
func NewIntent(c Classifier) *IntentGuard {
	return &IntentGuard{classifier: c}
}

// Evaluate classifies the query and stores the classification on qc.
func (g *IntentGuard) Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict {
	c, err := g.classifier.Classify(ctx, qc.RawQuery)
	if err != nil {
		return failed(err)
	}

	qc.Classification = c
	qc.IsBookIntent = c.Intent == domain.IntentBookRequest

	logger.FromContext(ctx).Debug("Query classified",
		zap.String("intent", string(c.Intent)),
		zap.String("entity_type", string(c.Entity.Type)),
		zap.Bool("must_exact_match", c.MustExactMatch),
		zap.String("reason", c.Reason),
	)

	if !qc.IsBookIntent {
		return domain.Declined(domain.DeclineOffTopic)
	}
	return domain.Continue()
}
