package librarian

import "github.com/kailas-cloud/librarian/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrMalformedRequest       = domain.ErrMalformedRequest
	ErrCatalogEmpty           = domain.ErrCatalogEmpty
	ErrUpstreamUnavailable    = domain.ErrUpstreamUnavailable
	ErrEmbeddingModelMismatch = domain.ErrEmbeddingModelMismatch
	ErrQuotaExceeded          = domain.ErrEmbeddingQuotaExceeded
	ErrProviderError          = domain.ErrEmbeddingProviderError
)
