package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br, now: func() time.Time { return time.Now().UTC() }}
}

// GetUsage builds a usage report for the given period.
func (s *Service) GetUsage(_ context.Context, period domusage.Period) domusage.Report {
	now := s.now()
	var snap domusage.Snapshot
	if s.br != nil {
		snap = s.br.Snapshot()
	}

	r := domusage.Report{Period: period, Action: snap.Action}
	switch period {
	case domusage.PeriodMonth:
		r.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 1, 0)
		r.TokensUsed, r.TokensLimit = snap.MonthlyUsed, snap.MonthlyLimit
	default:
		r.Period = domusage.PeriodDay
		r.PeriodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.Add(24 * time.Hour)
		r.TokensUsed, r.TokensLimit = snap.DailyUsed, snap.DailyLimit
	}

	r.TokensRemaining = -1
	if r.TokensLimit > 0 {
		r.TokensRemaining = max(0, r.TokensLimit-r.TokensUsed)
		r.Exhausted = r.TokensRemaining == 0
	}
	return r
}
