package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CatalogCounter reports the size of the active catalog.
type CatalogCounter interface {
	Count(ctx context.Context) (int, error)
}

// BreakerReader reports whether an upstream's circuit breaker is open.
type BreakerReader interface {
	Open(upstream string) bool
}
