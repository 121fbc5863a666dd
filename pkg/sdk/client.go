package librarian

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/app"
	"github.com/kailas-cloud/librarian/internal/config"
	"github.com/kailas-cloud/librarian/internal/domain"
	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
	"github.com/kailas-cloud/librarian/internal/usecase/pipeline"
)

// Client is the librarian SDK entry point. It is safe for concurrent use.
type Client struct {
	infra *app.Infra
	svc   *app.Services
	obs   *observer
}

// New builds a Client and connects to the catalog store.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, o := range opts {
		o.apply(cc)
	}
	if cc.driver == "" {
		return nil, errors.New("librarian: catalog store required (use WithValkey, WithRedis or WithMemory)")
	}
	if cc.apiKey == "" {
		return nil, errors.New("librarian: provider API key required (use WithOpenAI)")
	}

	cfg := buildConfig(cc)
	if err := cfg.ValidateCore(); err != nil {
		return nil, fmt.Errorf("librarian: %w", err)
	}

	obs, err := newObserver(cc.logger, cc.metricsReg)
	if err != nil {
		return nil, err
	}

	infra, err := app.Open(ctx, cfg, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("librarian: %w", err)
	}
	svc, err := infra.Services()
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("librarian: %w", err)
	}
	return &Client{infra: infra, svc: svc, obs: obs}, nil
}

func buildConfig(cc *clientConfig) config.Config {
	cfg := config.Config{
		Database: config.DatabaseConfig{
			Driver:   cc.driver,
			Addrs:    cc.addrs,
			Password: cc.password,
		},
		Storage: config.StorageConfig{KeyPrefix: cc.keyPrefix},
		LLM: config.LLMConfig{
			APIKey:              cc.apiKey,
			BaseURL:             cc.baseURL,
			EmbeddingModel:      cc.embeddingModel,
			EmbeddingDimensions: cc.dimensions,
			ChatModel:           cc.chatModel,
			Budget: config.BudgetConfig{
				DailyTokenLimit:   cc.dailyTokens,
				MonthlyTokenLimit: cc.monthlyTokens,
			},
		},
	}
	if cc.rejectOverrun {
		cfg.LLM.Budget.Action = "reject"
	}
	cfg.ApplyDefaults()
	return cfg
}

// Close releases all resources.
func (c *Client) Close() {
	c.infra.Close()
}

// Recommend resolves a free-form query into one catalog book.
// A declined query is not an error: check Recommendation.Declined.
// k == 0 uses the default candidate count.
func (c *Client) Recommend(ctx context.Context, query string, k int) (rec Recommendation, err error) {
	start := time.Now()
	defer func() {
		c.obs.observe("recommend", start, err, "decline_reason", rec.DeclineReason, "tokens", rec.Usage.EmbeddingTokens+rec.Usage.GenerationTokens)
	}()

	ctx, usage := domain.NewContextWithUsage(ctx)
	resp, err := c.svc.Recommender.Resolve(ctx, pipeline.Request{Query: query, K: k})
	if err != nil {
		return Recommendation{}, fmt.Errorf("recommend: %w", err)
	}
	return toRecommendation(resp, usage), nil
}

// Search returns the k nearest catalog books without any guardrails.
func (c *Client) Search(ctx context.Context, query string, k int) (matches []Match, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err, "results", len(matches)) }()

	cands, err := c.svc.Retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return toMatches(cands), nil
}

// Speak synthesizes text into MP3 audio. An empty voice uses the default.
func (c *Client) Speak(ctx context.Context, text, voice string) (audio []byte, err error) {
	start := time.Now()
	defer func() { c.obs.observe("speak", start, err, "bytes", len(audio)) }()

	audio, err = c.svc.Speech.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("speak: %w", err)
	}
	return audio, nil
}

// Ingest embeds books and swaps them in as the active catalog generation.
// Invalid and duplicate entries are skipped and counted in the report.
func (c *Client) Ingest(ctx context.Context, books []Book, opts IngestOptions) (rep IngestReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("ingest", start, err, "ingested", rep.Ingested) }()

	raw, err := c.infra.Ingest(ctx, toRecords(books), c.infra.IngestConfig(opts.DryRun, opts.KeepOld))
	rep = toIngestReport(raw)
	if err != nil {
		return rep, fmt.Errorf("ingest: %w", err)
	}
	return rep, nil
}

// Usage reports token consumption for the current day or month.
func (c *Client) Usage(ctx context.Context, period UsagePeriod) (UsageReport, error) {
	start := time.Now()
	p, err := domusage.ParsePeriod(string(period))
	defer func() { c.obs.observe("usage", start, err) }()
	if err != nil {
		return UsageReport{}, domain.NewMalformed("period", err.Error())
	}
	return toUsageReport(c.svc.Usage.GetUsage(ctx, p)), nil
}

// Health checks the store, the provider, the catalog and the circuit breakers.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	report := c.svc.Health.Check(ctx)
	c.obs.observe("health", start, nil, "status", string(report.Status))

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}
