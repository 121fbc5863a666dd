package metering

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

type mockEmbedder struct {
	result     domain.EmbeddingResult
	err        error
	batchErr   error
	batchCalls int
	batchSizes []int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = m.result.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: m.result.PromptTokens * len(texts),
		TotalTokens:  m.result.TotalTokens * len(texts),
	}, nil
}

// plainMockEmbedder implements only Embedder, not BatchEmbedder.
type plainMockEmbedder struct {
	result domain.EmbeddingResult
	calls  int
}

func (m *plainMockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return m.result, nil
}

type mockGenerator struct {
	out domain.Generation
	err error
}

func (m *mockGenerator) Generate(_ context.Context, _ domain.GenerateRequest) (domain.Generation, error) {
	return m.out, m.err
}

func TestInstrumentedEmbedder_RecordsBudgetAndUsage(t *testing.T) {
	budget := newTracker(1000000, 10000000, BudgetActionReject)

	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 500,
		TotalTokens:  500,
	}}
	p := NewInstrumentedEmbedder(inner, "test-model", budget, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	result, err := p.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(result.Embedding))
	}
	if got := budget.RemainingDaily(); got != 1000000-500 {
		t.Errorf("daily remaining = %d", got)
	}
	if usage.EmbeddingTokens != 500 || usage.Calls != 1 {
		t.Errorf("usage = %+v", usage)
	}
	if got := testutil.ToFloat64(metrics.BudgetTokensRemaining.WithLabelValues("daily")); got != float64(1000000-500) {
		t.Errorf("remaining gauge = %v", got)
	}
}

func TestInstrumentedEmbedder_Error(t *testing.T) {
	inner := &mockEmbedder{err: errors.New("provider down")}
	p := NewInstrumentedEmbedder(inner, "test-model", nil, zap.NewNop())

	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestInstrumentedEmbedder_BudgetRejection(t *testing.T) {
	budget := newTracker(100, 0, BudgetActionReject)
	budget.Record(100)

	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	p := NewInstrumentedEmbedder(inner, "test-model", budget, zap.NewNop())

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("expected domain.ErrEmbeddingQuotaExceeded, got %v", err)
	}

	_, err = p.BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("expected domain.ErrEmbeddingQuotaExceeded for batch, got %v", err)
	}
	if inner.batchCalls != 0 {
		t.Errorf("inner must not be called over budget, got %d calls", inner.batchCalls)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_RecordsBudget(t *testing.T) {
	budget := newTracker(1000000, 10000000, BudgetActionReject)

	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1},
		PromptTokens: 100,
		TotalTokens:  100,
	}}
	p := NewInstrumentedEmbedder(inner, "model", budget, zap.NewNop())

	res, err := p.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 || inner.batchCalls != 1 {
		t.Fatalf("expected 3 embeddings in 1 call, got %d in %d", len(res.Embeddings), inner.batchCalls)
	}
	if decrease := 1000000 - budget.RemainingDaily(); decrease != 300 {
		t.Errorf("expected budget decrease of 300, got %d", decrease)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Chunks(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}, TotalTokens: 1}}
	p := NewInstrumentedEmbedder(inner, "model", nil, zap.NewNop())
	p.batchSize = 2

	res, err := p.BatchEmbed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 5 || res.TotalTokens != 5 {
		t.Errorf("unexpected result: %d embeddings, %d tokens", len(res.Embeddings), res.TotalTokens)
	}
	if fmt.Sprint(inner.batchSizes) != "[2 2 1]" {
		t.Errorf("chunk sizes = %v", inner.batchSizes)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_BudgetExhaustedMidway(t *testing.T) {
	budget := newTracker(3, 0, BudgetActionReject)
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}, TotalTokens: 2}}
	p := NewInstrumentedEmbedder(inner, "model", budget, zap.NewNop())
	p.batchSize = 2

	// Первый чанк съедает 4 токена, второй должен быть отклонён
	_, err := p.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("expected quota error on second chunk, got %v", err)
	}
	if inner.batchCalls != 1 {
		t.Errorf("expected 1 batch call, got %d", inner.batchCalls)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Empty(t *testing.T) {
	p := NewInstrumentedEmbedder(&mockEmbedder{}, "model", nil, zap.NewNop())

	res, err := p.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embeddings != nil {
		t.Errorf("expected nil for empty input")
	}
}

func TestInstrumentedEmbedder_BatchEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{batchErr: fmt.Errorf("api error")}
	p := NewInstrumentedEmbedder(inner, "model", nil, zap.NewNop())

	if _, err := p.BatchEmbed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestInstrumentedEmbedder_BatchEmbed_FallbackToSingle(t *testing.T) {
	inner := &plainMockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}, TotalTokens: 5}}
	p := NewInstrumentedEmbedder(inner, "model", nil, zap.NewNop())

	res, err := p.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 fallback Embed calls, got %d", inner.calls)
	}
}

func TestInstrumentedGenerator_RecordsTokens(t *testing.T) {
	budget := newTracker(1000, 0, BudgetActionReject)
	g := NewInstrumentedGenerator(&mockGenerator{out: domain.Generation{Text: "ok", TotalTokens: 40}}, budget, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	out, err := g.Generate(ctx, domain.GenerateRequest{Operation: "compose", Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("Text = %q", out.Text)
	}
	if usage.GenerationTokens != 40 {
		t.Errorf("GenerationTokens = %d", usage.GenerationTokens)
	}
	if budget.RemainingDaily() != 960 {
		t.Errorf("RemainingDaily = %d", budget.RemainingDaily())
	}
}

func TestInstrumentedGenerator_RejectsOverBudget(t *testing.T) {
	budget := newTracker(10, 0, BudgetActionReject)
	budget.Record(10)
	g := NewInstrumentedGenerator(&mockGenerator{}, budget, zap.NewNop())

	_, err := g.Generate(context.Background(), domain.GenerateRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestInstrumentedGenerator_PassesErrors(t *testing.T) {
	g := NewInstrumentedGenerator(&mockGenerator{err: domain.ErrUpstreamUnavailable}, nil, zap.NewNop())

	_, err := g.Generate(context.Background(), domain.GenerateRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

// Токены чата и эмбеддингов расходуют один общий бюджет.
func TestInstrumentedGenerator_ChatTokensShareBudget(t *testing.T) {
	store := newMockBudgetStore()
	budget := newTracker(100, 1000, BudgetActionReject).WithStore(context.Background(), store)

	gen := NewInstrumentedGenerator(&mockGenerator{out: domain.Generation{Text: "{}", TotalTokens: 70}}, budget, zap.NewNop())
	emb := NewInstrumentedEmbedder(&mockEmbedder{result: domain.EmbeddingResult{
		Embedding:   []float32{1},
		TotalTokens: 30,
	}}, "test-model", budget, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	if _, err := emb.Embed(ctx, "a dystopia about books"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := gen.Generate(ctx, domain.GenerateRequest{Operation: "select", Prompt: "x"}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	snap := budget.Snapshot()
	if snap.DailyUsed != 100 || snap.MonthlyUsed != 100 {
		t.Errorf("snapshot = %+v, expected 100 tokens used", snap)
	}
	if got := store.value(budget.dailyKey(budget.now())); got != 100 {
		t.Errorf("persisted daily = %d, expected 100", got)
	}
	if usage.EmbeddingTokens != 30 || usage.GenerationTokens != 70 || usage.Calls != 2 {
		t.Errorf("usage = %+v", usage)
	}

	// дневной лимит исчерпан чатом: оба пути отклоняются
	rejected := metrics.BudgetRejectionsTotal.WithLabelValues("compose")
	before := testutil.ToFloat64(rejected)
	if _, err := gen.Generate(ctx, domain.GenerateRequest{Operation: "compose", Prompt: "x"}); !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Errorf("generate after exhaustion: %v", err)
	}
	if _, err := emb.Embed(ctx, "another query"); !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Errorf("embed after exhaustion: %v", err)
	}
	if usage.Calls != 2 || budget.Snapshot().DailyUsed != 100 {
		t.Errorf("rejected calls must not be counted: usage=%+v snapshot=%+v", usage, budget.Snapshot())
	}
	if d := testutil.ToFloat64(rejected) - before; d != 1 {
		t.Errorf("compose rejections delta = %v", d)
	}
}
