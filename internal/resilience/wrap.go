package resilience

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Generator routes domain.Generator calls through a Caller.
type Generator struct {
	inner  domain.Generator
	caller *Caller
}

// WrapGenerator decorates inner with retry and breaker.
func WrapGenerator(inner domain.Generator, c *Caller) *Generator {
	return &Generator{inner: inner, caller: c}
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error) {
	return Do(ctx, g.caller, UpstreamChat, func(ctx context.Context) (domain.Generation, error) {
		return g.inner.Generate(ctx, req)
	})
}

// Moderator routes domain.Moderator calls through a Caller.
type Moderator struct {
	inner  domain.Moderator
	caller *Caller
}

// WrapModerator decorates inner with retry and breaker.
func WrapModerator(inner domain.Moderator, c *Caller) *Moderator {
	return &Moderator{inner: inner, caller: c}
}

// Moderate implements domain.Moderator.
func (m *Moderator) Moderate(ctx context.Context, text string) (domain.ModerationResult, error) {
	return Do(ctx, m.caller, UpstreamModeration, func(ctx context.Context) (domain.ModerationResult, error) {
		return m.inner.Moderate(ctx, text)
	})
}

// Embedder routes embedding calls through a Caller.
type Embedder struct {
	inner  domain.Embedder
	caller *Caller
}

// WrapEmbedder decorates inner with retry and breaker.
func WrapEmbedder(inner domain.Embedder, c *Caller) *Embedder {
	return &Embedder{inner: inner, caller: c}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return Do(ctx, e.caller, UpstreamEmbedding, func(ctx context.Context) (domain.EmbeddingResult, error) {
		return e.inner.Embed(ctx, text)
	})
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return Do(ctx, e.caller, UpstreamEmbedding, func(ctx context.Context) (domain.BatchEmbeddingResult, error) {
		return domain.BatchEmbed(ctx, e.inner, texts)
	})
}

// Synthesizer routes speech calls through a Caller.
type Synthesizer struct {
	inner  domain.SpeechSynthesizer
	caller *Caller
}

// WrapSynthesizer decorates inner with retry and breaker.
func WrapSynthesizer(inner domain.SpeechSynthesizer, c *Caller) *Synthesizer {
	return &Synthesizer{inner: inner, caller: c}
}

// Synthesize implements domain.SpeechSynthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return Do(ctx, s.caller, UpstreamSpeech, func(ctx context.Context) ([]byte, error) {
		return s.inner.Synthesize(ctx, text, voice)
	})
}
