package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/app"
	"github.com/kailas-cloud/librarian/internal/config"
	"github.com/kailas-cloud/librarian/internal/domain"
	logpkg "github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
	chiTransport "github.com/kailas-cloud/librarian/internal/transport/chi"
	"github.com/kailas-cloud/librarian/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("librarian %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting librarian API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("embedding_model", cfg.LLM.EmbeddingModel),
		zap.String("chat_model", cfg.LLM.ChatModel),
	)

	// Register metrics explicitly (no init())
	metrics.Register()

	ctx := context.Background()
	infra, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open infrastructure", zap.Error(err))
	}
	defer infra.Close()

	if cfg.Database.Driver == "memory" && cfg.Ingest.SeedFile != "" {
		rep, err := infra.IngestFile(ctx, cfg.Ingest.SeedFile, infra.IngestConfig(false, false))
		if err != nil {
			logger.Fatal("Failed to seed memory catalog", zap.String("file", cfg.Ingest.SeedFile), zap.Error(err))
		}
		logger.Info("Seeded memory catalog",
			zap.String("generation", rep.Generation),
			zap.Int("books", rep.Ingested),
			zap.Int("tokens", rep.Tokens),
		)
	}

	// A catalog built with another embedding model would return garbage neighbours.
	if err := infra.Catalog.CheckModel(ctx); err != nil {
		if errors.Is(err, domain.ErrEmbeddingModelMismatch) {
			logger.Fatal("Catalog needs re-ingest", zap.Error(err))
		}
		logger.Warn("Catalog model check failed", zap.Error(err))
	}

	svc, err := infra.Services()
	if err != nil {
		logger.Fatal("Failed to build services", zap.Error(err))
	}
	server := chiTransport.NewServer(svc.Recommender, svc.Retriever, svc.Speech, svc.Usage, svc.Health, logger)

	handler := chiTransport.NewRouter(server, chiTransport.RouterOptions{
		APIKeys:           cfg.Auth.APIKeys,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
