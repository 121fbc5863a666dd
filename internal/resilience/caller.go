// Package resilience wraps external calls with a bounded retry and a
// per-upstream circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// Upstream names used as breaker keys and metric labels.
const (
	UpstreamModeration = "moderation"
	UpstreamChat       = "chat"
	UpstreamEmbedding  = "embedding"
	UpstreamSpeech     = "speech"
)

// Config controls retry and breaker behavior.
type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is the base backoff delay.
	Delay time.Duration
	// BreakerFailures is the number of consecutive failures that opens a breaker.
	BreakerFailures int
	// BreakerOpen is how long an open breaker rejects calls.
	BreakerOpen time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests int
}

func (c *Config) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.Delay <= 0 {
		c.Delay = 250 * time.Millisecond
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = 30 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 1
	}
}

// Caller runs upstream calls through retry and breaker. Safe for concurrent use.
type Caller struct {
	cfg      Config
	logger   *zap.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewCaller creates a Caller. Zero config fields take defaults.
func NewCaller(cfg Config, logger *zap.Logger) *Caller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Do runs fn against upstream. Failures come back wrapped with
// domain.ErrUpstreamUnavailable, except quota errors which pass through.
func Do[T any](ctx context.Context, c *Caller, upstream string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	cb := c.breaker(upstream)

	err := retry.Do(
		func() error {
			_, err := cb.Execute(func() (any, error) {
				v, err := fn(ctx)
				if err != nil {
					return nil, err
				}
				out = v
				return nil, nil
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.Attempts)),
		retry.Delay(c.cfg.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			metrics.UpstreamRetriesTotal.WithLabelValues(upstream).Inc()
			c.logger.Warn("Retrying upstream call",
				zap.String("upstream", upstream),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return out, nil
	}

	var zero T
	if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		return zero, err
	}
	return zero, domain.Upstream(upstream, err)
}

// Run is Do for calls without a result.
func Run(ctx context.Context, c *Caller, upstream string, fn func(context.Context) error) error {
	_, err := Do(ctx, c, upstream, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State reports the breaker state for upstream.
func (c *Caller) State(upstream string) gobreaker.State {
	return c.breaker(upstream).State()
}

// Open reports whether upstream's breaker is open.
func (c *Caller) Open(upstream string) bool {
	return c.State(upstream) == gobreaker.StateOpen
}

func (c *Caller) breaker(upstream string) *gobreaker.CircuitBreaker[any] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[upstream]; ok {
		return cb
	}

	failures := uint32(c.cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        upstream,
		MaxRequests: uint32(c.cfg.HalfOpenRequests),
		Timeout:     c.cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	metrics.BreakerState.WithLabelValues(upstream).Set(0)
	c.breakers[upstream] = cb
	return cb
}

// retryable reports whether another attempt can help.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrEmbeddingQuotaExceeded),
		errors.Is(err, domain.ErrMalformedRequest),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

// countsAsSuccess keeps caller-side failures from tripping the breaker.
func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrEmbeddingQuotaExceeded) ||
		errors.Is(err, domain.ErrMalformedRequest)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
