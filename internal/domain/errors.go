package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrMalformedRequest signals a missing or invalid client input.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrCatalogEmpty signals that there are no records to search.
	ErrCatalogEmpty = errors.New("catalog empty")
	// ErrUpstreamUnavailable signals a failed or timed out external call
	// (moderation, language detection, embedding, generation, speech).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingModelMismatch signals that the active catalog generation was
	// embedded with a different model than the one configured for queries.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
	// ErrEmbeddingQuotaExceeded signals an exhausted token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// MalformedError carries the field that failed validation.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrMalformedRequest.Error(), e.Field, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedRequest }

// NewMalformed creates a malformed request error for a field.
func NewMalformed(field, reason string) error {
	return &MalformedError{Field: field, Reason: reason}
}

// Upstream wraps err with ErrUpstreamUnavailable while keeping the cause inspectable.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}
