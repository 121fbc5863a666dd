package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// DefaultMaxAPIBatchSize is the largest batch sent in one embedding request.
const DefaultMaxAPIBatchSize = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEmbedder wraps Embedder with budget enforcement and logging.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
// This layer owns budget tracking and per-request usage only.
type InstrumentedEmbedder struct {
	inner     domain.Embedder
	model     string
	budget    BudgetChecker
	batchSize int
	logger    *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with budget and observability.
// budget may be nil.
func NewInstrumentedEmbedder(
	inner domain.Embedder, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:     inner,
		model:     model,
		budget:    budget,
		batchSize: DefaultMaxAPIBatchSize,
		logger:    logger,
	}
}

// Embed checks budget, delegates to the inner embedder, and records usage.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	if err := checkBudget(ctx, p.budget, "embed"); err != nil {
		p.logger.Error("Budget exceeded", zap.String("model", p.model), zap.Error(err))
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	result, err := p.inner.Embed(ctx, text)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	recordBudget(p.budget, result.TotalTokens)
	domain.UsageFromContext(ctx).AddEmbedding(result.TotalTokens)

	p.logger.Debug("Embedding request completed",
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEmbed checks budget, splits into sub-batches and delegates to inner.
func (p *InstrumentedEmbedder) BatchEmbed(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	if err := checkBudget(ctx, p.budget, "batch_embed"); err != nil {
		p.logger.Error("Budget exceeded (batch)",
			zap.String("model", p.model),
			zap.Int("batch_size", len(texts)),
			zap.Error(err),
		)
		return domain.BatchEmbeddingResult{}, err
	}

	start := time.Now()

	result, err := p.embedChunked(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	domain.UsageFromContext(ctx).AddEmbedding(result.TotalTokens)

	p.logger.Debug("Batch embedding completed",
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// embedChunked splits texts into chunks of batchSize and re-checks the
// budget before every chunk after the first.
func (p *InstrumentedEmbedder) embedChunked(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult

	for offset := 0; offset < len(texts); offset += p.batchSize {
		if offset > 0 {
			if err := checkBudget(ctx, p.budget, "batch_embed"); err != nil {
				return domain.BatchEmbeddingResult{}, fmt.Errorf("chunk %d: %w", offset, err)
			}
		}

		chunk := texts[offset:min(offset+p.batchSize, len(texts))]

		res, err := domain.BatchEmbed(ctx, p.inner, chunk)
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("model", p.model),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}

		recordBudget(p.budget, res.TotalTokens)
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}

	return out, nil
}

// InstrumentedGenerator wraps a Generator with the same budget as embeddings.
type InstrumentedGenerator struct {
	inner  domain.Generator
	budget BudgetChecker
	logger *zap.Logger
}

// NewInstrumentedGenerator wraps a generator with budget accounting.
// budget may be nil.
func NewInstrumentedGenerator(inner domain.Generator, budget BudgetChecker, logger *zap.Logger) *InstrumentedGenerator {
	return &InstrumentedGenerator{inner: inner, budget: budget, logger: logger}
}

// Generate checks budget, delegates and records the completion's tokens.
func (g *InstrumentedGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error) {
	if err := checkBudget(ctx, g.budget, generateOperation(req)); err != nil {
		g.logger.Error("Budget exceeded", zap.String("operation", req.Operation), zap.Error(err))
		return domain.Generation{}, err
	}

	out, err := g.inner.Generate(ctx, req)
	if err != nil {
		return domain.Generation{}, err
	}

	recordBudget(g.budget, out.TotalTokens)
	domain.UsageFromContext(ctx).AddGeneration(out.TotalTokens)

	g.logger.Debug("Generation completed",
		zap.String("operation", req.Operation),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// checkBudget counts a rejection against the operation that was refused.
func checkBudget(ctx context.Context, budget BudgetChecker, operation string) error {
	if budget == nil {
		return nil
	}
	if err := budget.Check(ctx); err != nil {
		metrics.BudgetRejectionsTotal.WithLabelValues(operation).Inc()
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

func generateOperation(req domain.GenerateRequest) string {
	if req.Operation == "" {
		return "generate"
	}
	return req.Operation
}

func recordBudget(budget BudgetChecker, tokens int) {
	if budget == nil || tokens <= 0 {
		return
	}
	budget.Record(int64(tokens))
	metrics.BudgetTokensRemaining.WithLabelValues("daily").Set(float64(budget.RemainingDaily()))
	metrics.BudgetTokensRemaining.WithLabelValues("monthly").Set(float64(budget.RemainingMonthly()))
}
