package health

import (
	"context"
	"errors"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckEmpty indicates an empty catalog.
	CheckEmpty CheckResult = "empty"
	// CheckOpen indicates an open circuit breaker.
	CheckOpen CheckResult = "open"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	catalog   CatalogCounter
	breakers  BreakerReader
	upstreams []string
}

// New creates a Service. Every dependency can be nil (memory driver,
// offline provider).
func New(db DBPinger, embedding EmbeddingChecker, catalog CatalogCounter) *Service {
	return &Service{db: db, embedding: embedding, catalog: catalog}
}

// WithBreakers reports the listed upstreams' circuit breakers.
func (s *Service) WithBreakers(b BreakerReader, upstreams ...string) *Service {
	s.breakers = b
	s.upstreams = upstreams
	return s
}

// Check runs health checks against all components. The catalog being
// unreachable is unhealthy; anything else failing is degraded.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = CheckError
			status = Unhealthy
		} else {
			checks["database"] = CheckOK
		}
	}

	if s.catalog != nil {
		n, err := s.catalog.Count(ctx)
		switch {
		case errors.Is(err, domain.ErrCatalogEmpty), err == nil && n == 0:
			checks["catalog"] = CheckEmpty
			status = worse(status, Degraded)
		case err != nil:
			checks["catalog"] = CheckError
			status = Unhealthy
		default:
			checks["catalog"] = CheckOK
		}
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
			status = worse(status, Degraded)
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.breakers != nil {
		for _, u := range s.upstreams {
			if s.breakers.Open(u) {
				checks["breaker_"+u] = CheckOpen
				status = worse(status, Degraded)
			}
		}
	}

	return Report{Status: status, Checks: checks}
}

func worse(a, b Status) Status {
	rank := map[Status]int{Healthy: 0, Degraded: 1, Unhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
