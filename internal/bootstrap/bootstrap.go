// Package bootstrap wires adapters into the watch pipeline.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/config"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
	"github.com/kirillkom/receipt-pipeline/internal/core/usecase"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/messagesource/httpapi"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/receipt-pipeline/internal/infrastructure/vision/ollama"
	"github.com/kirillkom/receipt-pipeline/internal/ledger"
	"github.com/kirillkom/receipt-pipeline/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Watcher ports.ReceiptWatcher
	Metrics *metrics.PipelineMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewTransactionRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	store, err := ledger.NewFileStore(cfg.LedgerPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger store: %w", err)
	}
	processedLedger := ledger.New(store, log)

	artifacts, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	events, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	visionClient := ollama.NewWithOptions(cfg.VisionURL, cfg.VisionModel, ollama.Options{
		RequestsPerSecond:  cfg.VisionRPS,
		ResilienceExecutor: executor,
	})
	classifier := ollama.NewClassifier(visionClient)
	extractor := ollama.NewExtractor(visionClient)

	source := httpapi.NewWithOptions(cfg.MessagesURL, httpapi.Options{
		ResilienceExecutor: executor,
	})

	pipelineMetrics := metrics.NewPipelineMetrics()

	dupes := usecase.NewDuplicateDetector(repo, log)
	batcher := usecase.NewIngestBatchUseCase(
		processedLedger, classifier, extractor, artifacts, repo, dupes,
		source, events, pipelineMetrics, log,
		usecase.IngestBatchConfig{
			MaxInFlight: cfg.MaxConcurrentJobs,
			AutoExtract: cfg.AutoExtract,
		},
	)
	text := usecase.NewLoggingTextHandler(log)
	watcher := usecase.NewWatchLoopUseCase(
		source, processedLedger, batcher, text, pipelineMetrics, log,
		usecase.WatchConfig{
			SenderFilter: cfg.SenderFilter,
			PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			Continuous:   cfg.WatchContinuous,
		},
	)

	return &App{
		Config:  cfg,
		Watcher: watcher,
		Metrics: pipelineMetrics,

		closeFn: func() {
			events.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
