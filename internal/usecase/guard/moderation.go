// Package guard holds the gates a query passes before retrieval.
// Each guard inspects and annotates the query context and returns a verdict.
package guard

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// ModerationGuard declines flagged queries.
type ModerationGuard struct {
	mod      Moderator
	failOpen bool
}

// NewModeration creates a ModerationGuard. With failOpen a classifier
// outage lets queries through instead of declining them.
func NewModeration(mod Moderator, failOpen bool) *ModerationGuard {
	return &ModerationGuard{mod: mod, failOpen: failOpen}
}

// Evaluate moderates the raw query.
func (g *ModerationGuard) Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict {
	res, err := g.mod.Moderate(ctx, qc.RawQuery)
	if err != nil {
		logger.FromContext(ctx).Warn("moderation_degraded",
			zap.Bool("fail_open", g.failOpen), zap.Error(err))
		if g.failOpen && !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
			qc.ModerationPassed = true
			return domain.Continue()
		}
		return failed(err)
	}

	if res.Flagged {
		logger.FromContext(ctx).Info("Query flagged by moderation", zap.Strings("categories", res.Categories))
		return domain.Declined(domain.DeclineModeration)
	}

	qc.ModerationPassed = true
	return domain.Continue()
}
