// Command ingest loads a JSON book catalog into the configured store as a new
// generation and activates it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/app"
	"github.com/kailas-cloud/librarian/internal/config"
	logpkg "github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

func main() {
	file := flag.String("file", "", "path to a JSON array of {title, summary, themes, author?}")
	dryRun := flag.Bool("dry-run", false, "validate and report without embedding or writing")
	keepOld := flag.Bool("keep-old", false, "keep the previous generation after the swap")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -file books.json [-dry-run] [-keep-old]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "memory" {
		fmt.Fprintln(os.Stderr, "ingest needs a persistent driver (redis or valkey); the memory driver is seeded via ingest.seed_file")
		os.Exit(1)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open infrastructure", zap.Error(err))
	}
	defer infra.Close()

	rep, err := infra.IngestFile(ctx, *file, infra.IngestConfig(*dryRun, *keepOld))
	if err != nil {
		logger.Error("Ingest failed", zap.String("run_id", rep.RunID), zap.Error(err))
		infra.Close()
		os.Exit(1) //nolint:gocritic // deferred Sync is best effort
	}

	logger.Info("Ingest finished",
		zap.String("run_id", rep.RunID),
		zap.String("generation", rep.Generation),
		zap.String("previous", rep.Previous),
		zap.Int("read", rep.Read),
		zap.Int("skipped", rep.Skipped),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("ingested", rep.Ingested),
		zap.Int("tokens", rep.Tokens),
		zap.Bool("dry_run", rep.DryRun),
		zap.Bool("kept_old", *keepOld || cfg.Ingest.KeepOld),
	)
}
