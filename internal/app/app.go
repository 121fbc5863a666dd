// Package app assembles the infrastructure shared by the API server and the
// ingest CLI: the catalog store, the token budget and the decorated provider
// clients.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/catalog/memory"
	"github.com/kailas-cloud/librarian/internal/config"
	dbRedis "github.com/kailas-cloud/librarian/internal/db/redis"
	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/match"
	"github.com/kailas-cloud/librarian/internal/metrics"
	budgetrepo "github.com/kailas-cloud/librarian/internal/repository/budget"
	catalogrepo "github.com/kailas-cloud/librarian/internal/repository/catalog"
	"github.com/kailas-cloud/librarian/internal/repository/embcache"
	"github.com/kailas-cloud/librarian/internal/resilience"
	openaiTransport "github.com/kailas-cloud/librarian/internal/transport/openai"
	"github.com/kailas-cloud/librarian/internal/usecase/classify"
	"github.com/kailas-cloud/librarian/internal/usecase/compose"
	"github.com/kailas-cloud/librarian/internal/usecase/guard"
	"github.com/kailas-cloud/librarian/internal/usecase/health"
	"github.com/kailas-cloud/librarian/internal/usecase/ingest"
	"github.com/kailas-cloud/librarian/internal/usecase/language"
	"github.com/kailas-cloud/librarian/internal/usecase/metering"
	"github.com/kailas-cloud/librarian/internal/usecase/pipeline"
	"github.com/kailas-cloud/librarian/internal/usecase/retrieve"
	"github.com/kailas-cloud/librarian/internal/usecase/selector"
	"github.com/kailas-cloud/librarian/internal/usecase/speech"
	usageuc "github.com/kailas-cloud/librarian/internal/usecase/usage"
)

const (
	budgetDailyTTL   = 48 * time.Hour
	budgetMonthlyTTL = 62 * 24 * time.Hour
	budgetScope      = "openai"
)

// Catalog is everything the services need from a catalog backend.
type Catalog interface {
	ingest.Catalog
	retrieve.Searcher
	guard.NameLister
	health.CatalogCounter
	CheckModel(ctx context.Context) error
}

// Infra holds process-wide dependencies built from config.
type Infra struct {
	cfg    config.Config
	logger *zap.Logger

	store   *dbRedis.Store // nil for the memory driver
	Catalog Catalog
	Budget  *metering.BudgetTracker // nil when no limit is configured
	Caller  *resilience.Caller

	llm      openaiTransport.Config
	provider *openaiTransport.Embedder
	// Embedder is provider -> cache -> budget/metrics -> retry/breaker.
	Embedder *resilience.Embedder
}

// Open connects the store and builds the catalog and the embedder chain.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Infra, error) {
	i := &Infra{
		cfg:    cfg,
		logger: logger,
		llm: openaiTransport.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Logger:  logger,
		},
	}
	i.Caller = resilience.NewCaller(resilience.Config{
		Attempts:         cfg.Resilience.RetryAttempts,
		Delay:            time.Duration(cfg.Resilience.RetryDelayMS) * time.Millisecond,
		BreakerFailures:  cfg.Resilience.BreakerFailures,
		BreakerOpen:      time.Duration(cfg.Resilience.BreakerOpenSec) * time.Second,
		HalfOpenRequests: cfg.Resilience.BreakerHalfOpenReqs,
	}, logger)

	model := cfg.EmbeddingModel()
	switch cfg.Database.Driver {
	case "memory":
		i.Catalog = memory.New(model)
	default:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
		}
		timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		i.store = store
		i.Catalog = catalogrepo.New(store, catalogrepo.Options{
			KeyPrefix: cfg.Storage.KeyPrefix,
			Model:     model,
			HNSW: catalogrepo.HNSWConfig{
				M:           cfg.Database.HNSWM,
				EFConstruct: cfg.Database.HNSWEFConstruct,
			},
		})
	}

	i.Budget = i.buildBudget(ctx)
	i.provider = openaiTransport.NewEmbedder(i.llm, model)
	i.Embedder = i.buildEmbedder(model)
	return i, nil
}

// Close releases the store connection. Safe to call twice.
func (i *Infra) Close() {
	if i.store != nil {
		i.store.Close()
		i.store = nil
	}
}

// DBPinger returns the store for health checks, or nil for the memory driver.
func (i *Infra) DBPinger() health.DBPinger {
	// nil interface, not a typed nil pointer
	if i.store == nil {
		return nil
	}
	return i.store
}

// EmbeddingChecker returns the raw provider for health checks.
func (i *Infra) EmbeddingChecker() health.EmbeddingChecker { return i.provider }

// BudgetChecker returns the budget as an interface, nil when unlimited.
func (i *Infra) BudgetChecker() metering.BudgetChecker {
	if i.Budget == nil {
		return nil
	}
	return i.Budget
}

// Generator returns the chat client: provider -> budget/metrics -> retry/breaker.
func (i *Infra) Generator() *resilience.Generator {
	base := openaiTransport.NewGenerator(i.llm, i.cfg.LLM.ChatModel)
	return resilience.WrapGenerator(metering.NewInstrumentedGenerator(base, i.BudgetChecker(), i.logger), i.Caller)
}

// Moderator returns the moderation client with retry and breaker.
func (i *Infra) Moderator() *resilience.Moderator {
	return resilience.WrapModerator(openaiTransport.NewModerator(i.llm, i.cfg.LLM.ModerationModel), i.Caller)
}

// Synthesizer returns the text-to-speech client with retry and breaker.
func (i *Infra) Synthesizer() *resilience.Synthesizer {
	return resilience.WrapSynthesizer(openaiTransport.NewSpeech(i.llm, i.cfg.LLM.SpeechModel), i.Caller)
}

// IngestConfig maps the ingest section onto a run configuration.
func (i *Infra) IngestConfig(dryRun, keepOld bool) ingest.Config {
	return ingest.Config{
		BatchSize: i.cfg.Ingest.BatchSize,
		Source:    i.cfg.Ingest.EmbeddingSource,
		KeepOld:   keepOld || i.cfg.Ingest.KeepOld,
		DryRun:    dryRun,
	}
}

// IngestFile reads a JSON book file and loads it as a new catalog generation.
func (i *Infra) IngestFile(ctx context.Context, path string, runCfg ingest.Config) (ingest.Report, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return ingest.Report{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := ingest.ReadRecords(f)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("read %s: %w", path, err)
	}

	rep, err := i.Ingest(ctx, records, runCfg)
	if err != nil {
		return rep, fmt.Errorf("ingest %s: %w", path, err)
	}
	return rep, nil
}

// Ingest loads records as a new catalog generation.
func (i *Infra) Ingest(ctx context.Context, records []ingest.RawRecord, runCfg ingest.Config) (ingest.Report, error) {
	svc, err := ingest.New(i.Catalog, i.Embedder, runCfg)
	if err != nil {
		return ingest.Report{}, err
	}
	return svc.Run(ctx, records)
}

func (i *Infra) buildBudget(ctx context.Context) *metering.BudgetTracker {
	bc := i.cfg.LLM.Budget
	if bc.DailyTokenLimit <= 0 && bc.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := metering.BudgetActionWarn
	if bc.Action == "reject" {
		action = metering.BudgetActionReject
	}
	b := metering.NewBudgetTracker(
		i.cfg.Storage.KeyPrefix, budgetScope, bc.DailyTokenLimit, bc.MonthlyTokenLimit, action, i.logger,
	)
	if i.store != nil {
		// Loads the current counters so restarts keep the spent budget.
		b.WithStore(ctx, budgetrepo.New(i.store, budgetDailyTTL, budgetMonthlyTTL))
	}
	return b
}

func (i *Infra) buildEmbedder(model domain.EmbeddingModel) *resilience.Embedder {
	var embedder domain.Embedder = i.provider
	if i.store != nil {
		embedder = embcache.New(i.provider, i.store, embcache.Options{
			KeyPrefix: i.cfg.Storage.KeyPrefix,
			Model:     model,
			TTL:       time.Duration(i.cfg.Storage.EmbeddingCacheTTLHours) * time.Hour,
		}, metrics.EmbeddingCacheTotal, i.logger)
	}
	embedder = metering.NewInstrumentedEmbedder(embedder, model.Name, i.BudgetChecker(), i.logger)
	return resilience.WrapEmbedder(embedder, i.Caller)
}

// Services are the usecases behind the API.
type Services struct {
	Recommender *pipeline.Service
	Retriever   *retrieve.Service
	Speech      *speech.Service
	Usage       *usageuc.Service
	Health      *health.Service
}

// Services wires the usecases on top of the infrastructure.
func (i *Infra) Services() (*Services, error) {
	cfg := i.cfg
	gen := i.Generator()

	lang, err := language.New(gen, cfg.Pipeline.FallbackLanguage)
	if err != nil {
		return nil, fmt.Errorf("language: %w", err)
	}

	gates := pipeline.Gates(
		guard.NewModeration(i.Moderator(), cfg.Guard.ModerationFailOpen),
		lang,
		guard.NewIntent(classify.New(gen)),
		guard.NewExactMatch(i.Catalog, match.New(cfg.Guard.FuzzyThreshold)),
	)

	retriever := retrieve.New(i.Embedder, i.Catalog, retrieve.Config{
		DefaultK:       cfg.Pipeline.DefaultK,
		MaxK:           cfg.Pipeline.MaxK,
		RelevanceFloor: cfg.Pipeline.RelevanceFloor,
	})

	recommender := pipeline.New(gates, retriever, selector.New(gen), compose.New(gen), lang.Fallback(), pipeline.Config{
		RequestTimeout: cfg.RequestTimeout(),
		StageTimeout:   cfg.StageTimeout(),
	})

	speechSvc, err := speech.New(i.Synthesizer(), cfg.Speech.MaxChars).WithDefaultVoice(cfg.Speech.DefaultVoice)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	var budgetReader usageuc.BudgetReader
	if i.Budget != nil {
		budgetReader = i.Budget
	}

	healthSvc := health.New(i.DBPinger(), i.EmbeddingChecker(), i.Catalog).
		WithBreakers(i.Caller,
			resilience.UpstreamModeration,
			resilience.UpstreamChat,
			resilience.UpstreamEmbedding,
			resilience.UpstreamSpeech,
		)

	return &Services{
		Recommender: recommender,
		Retriever:   retriever,
		Speech:      speechSvc,
		Usage:       usageuc.New(budgetReader),
		Health:      healthSvc,
	}, nil
}
