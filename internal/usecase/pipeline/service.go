// Package pipeline resolves a query into one recommendation or a decline.
//
// A query runs through the gates (moderation, language, intent, exact match),
// then retrieval, selection and composition. Each step advances the query
// state one way; any gate or failed call ends in a decline. Only malformed
// input is returned as an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/domain/book"
	"github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

const (
	outcomeRecommended = "recommended"
	outcomeDeclined    = "declined"
)

// Request is a query to resolve. K zero means the default.
type Request struct {
	Query string
	K     int
}

// Config bounds request and stage durations.
type Config struct {
	RequestTimeout time.Duration
	StageTimeout   time.Duration
}

// Service is the query resolution pipeline.
type Service struct {
	gates     []Gate
	retriever Retriever
	selector  Selector
	composer  Composer
	fallback  domain.Language
	cfg       Config
}

// New creates the pipeline. fallback is the language declines use until
// detection has run.
func New(gates []Gate, r Retriever, s Selector, c Composer, fallback domain.Language, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 10 * time.Second
	}
	return &Service{gates: gates, retriever: r, selector: s, composer: c, fallback: fallback, cfg: cfg}
}

// Resolve runs the pipeline. The error is non-nil only for malformed input.
func (s *Service) Resolve(ctx context.Context, req Request) (domain.Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return domain.Response{}, domain.NewMalformed("query", "is required")
	}
	k, err := s.retriever.ResolveK(req.K)
	if err != nil {
		return domain.Response{}, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	qc := &domain.QueryContext{
		RawQuery: query,
		K:        k,
		Language: s.fallback,
		State:    domain.StateStart,
	}
	resp := s.run(ctx, qc)
	resp.Query = req.Query

	outcome := outcomeRecommended
	if resp.ChosenTitle == nil {
		outcome = outcomeDeclined
	}
	metrics.PipelineDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return resp, nil
}

func (s *Service) run(ctx context.Context, qc *domain.QueryContext) domain.Response {
	for _, g := range s.gates {
		var v domain.Verdict
		s.stage(ctx, g.Name, func(ctx context.Context) {
			v = g.Guard.Evaluate(ctx, qc)
		})
		// A decided verdict means the check ran, so its state is reached
		// even when the query is declined. A failed check stays behind.
		if v.Err == nil {
			if err := advance(qc, g.State); err != nil {
				return s.decline(ctx, qc, domain.Failed(err))
			}
		}
		if !v.Passed() {
			return s.decline(ctx, qc, v)
		}
	}

	cands, err := stageResult(ctx, s, "retrieve", func(ctx context.Context) ([]book.Candidate, error) {
		return s.retriever.Retrieve(ctx, qc.RawQuery, qc.K)
	})
	if err != nil && !errors.Is(err, domain.ErrCatalogEmpty) {
		return s.decline(ctx, qc, failed(err))
	}
	if advErr := advance(qc, domain.StateRetrieved); advErr != nil {
		return s.decline(ctx, qc, domain.Failed(advErr))
	}
	if errors.Is(err, domain.ErrCatalogEmpty) {
		return s.decline(ctx, qc, domain.Declined(domain.DeclineCatalogEmpty))
	}
	qc.Candidates = cands
	if len(cands) == 0 {
		return s.decline(ctx, qc, domain.Declined(domain.DeclineNoCandidates))
	}

	type selection struct {
		choice domain.Choice
		ok     bool
	}
	sel, err := stageResult(ctx, s, "select", func(ctx context.Context) (selection, error) {
		c, ok, err := s.selector.Select(ctx, qc.RawQuery, qc.Language, cands)
		return selection{choice: c, ok: ok}, err
	})
	if err != nil {
		return s.decline(ctx, qc, failed(err))
	}
	if advErr := advance(qc, domain.StateSelected); advErr != nil {
		return s.decline(ctx, qc, domain.Failed(advErr))
	}
	if !sel.ok {
		return s.decline(ctx, qc, domain.Declined(domain.DeclineNoFit))
	}
	qc.ChosenTitle = sel.choice.Title
	qc.Reason = sel.choice.Reason

	var chosen book.Candidate
	for _, c := range cands {
		if c.Book.Title() == qc.ChosenTitle {
			chosen = c
			break
		}
	}

	answer, err := stageResult(ctx, s, "compose", func(ctx context.Context) (string, error) {
		return s.composer.Compose(ctx, chosen.Book, qc.RawQuery, qc.Language, qc.Reason)
	})
	if err != nil {
		return s.decline(ctx, qc, failed(err))
	}
	if advErr := advance(qc, domain.StateComposed); advErr != nil {
		return s.decline(ctx, qc, domain.Failed(advErr))
	}

	title := qc.ChosenTitle
	resp := domain.Response{
		ChosenTitle: &title,
		Answer:      answer,
		ContextUsed: domain.ContextFromCandidates(cands),
		Language:    qc.Language,
	}
	if !resp.CheckInvariant() {
		return s.decline(ctx, qc, domain.Failed(fmt.Errorf("chosen title %q not in context", title)))
	}

	_ = advance(qc, domain.StateDone)
	resp.State = qc.State
	metrics.PipelineOutcomesTotal.WithLabelValues(outcomeRecommended, "", string(domain.StateDone)).Inc()
	logger.FromContext(ctx).Info("Query resolved",
		zap.String("state", string(qc.State)),
		zap.String("language", qc.Language.Code),
		zap.String("chosen_title", title),
		zap.Int("candidates", len(cands)),
	)
	return resp
}

// decline finishes the query with a decline message in the best-known language.
func (s *Service) decline(ctx context.Context, qc *domain.QueryContext, v domain.Verdict) domain.Response {
	reached := qc.State
	qc.State = domain.StateDeclined

	metrics.PipelineOutcomesTotal.WithLabelValues(outcomeDeclined, string(v.Decline), string(reached)).Inc()
	fields := []zap.Field{
		zap.String("decline_reason", string(v.Decline)),
		zap.String("state", string(reached)),
		zap.String("language", qc.Language.Code),
	}
	log := logger.FromContext(ctx)
	if v.Err != nil {
		log.Warn("Query declined", append(fields, zap.Error(v.Err))...)
	} else {
		log.Info("Query declined", fields...)
	}

	var answer string
	s.stage(ctx, "decline", func(ctx context.Context) {
		answer = s.composer.Decline(ctx, v.Decline, qc.Language, v.Entity)
	})

	return domain.Response{
		Answer:        answer,
		ContextUsed:   domain.ContextFromCandidates(qc.Candidates),
		Language:      qc.Language,
		State:         domain.StateDeclined,
		DeclineReason: v.Decline,
	}
}

// stage runs fn under the stage deadline and records its duration.
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()
	start := time.Now()
	fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func stageResult[T any](ctx context.Context, s *Service, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	s.stage(ctx, name, func(ctx context.Context) {
		out, err = fn(ctx)
	})
	return out, err
}

func advance(qc *domain.QueryContext, next domain.State) error {
	if !qc.State.CanAdvance(next) {
		return fmt.Errorf("illegal transition %s -> %s", qc.State, next)
	}
	qc.State = next
	return nil
}

// failed maps a stage error onto its decline.
func failed(err error) domain.Verdict {
	if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		return domain.Verdict{Decline: domain.DeclineQuotaExceeded, Err: err}
	}
	return domain.Failed(err)
}
