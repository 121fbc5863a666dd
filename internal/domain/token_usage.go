package domain

import "context"

type tokenUsageKey struct{}

// TokenUsage collects token usage for a single HTTP request across embedding
// and generation calls. The handler puts a pointer into the context, the
// instrumented clients add to it, and the handler reports it in a header.
type TokenUsage struct {
	EmbeddingTokens  int
	GenerationTokens int
	Calls            int
}

// NewContextWithUsage returns a context with a usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *TokenUsage) {
	u := &TokenUsage{}
	return context.WithValue(ctx, tokenUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector. Returns nil if not set.
func UsageFromContext(ctx context.Context) *TokenUsage {
	u, _ := ctx.Value(tokenUsageKey{}).(*TokenUsage)
	return u
}

// AddEmbedding records embedding tokens. Safe on a nil receiver.
func (u *TokenUsage) AddEmbedding(n int) {
	if u != nil {
		u.EmbeddingTokens += n
		u.Calls++
	}
}

// AddGeneration records generation tokens. Safe on a nil receiver.
func (u *TokenUsage) AddGeneration(n int) {
	if u != nil {
		u.GenerationTokens += n
		u.Calls++
	}
}

// Total returns all tokens recorded so far.
func (u *TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	return u.EmbeddingTokens + u.GenerationTokens
}
