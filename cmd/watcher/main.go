package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/receipt-pipeline/internal/bootstrap"
	"github.com/kirillkom/receipt-pipeline/internal/config"
	"github.com/kirillkom/receipt-pipeline/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("receipt-pipeline", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	server := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("metrics listening", "port", cfg.MetricsPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.Info("watch loop starting",
			"continuous", cfg.WatchContinuous,
			"poll_interval_ms", cfg.PollIntervalMS,
			"sender_filter", cfg.SenderFilter,
		)
		// In one-shot mode Run returns after a single drain; bring the
		// metrics server down with it.
		defer stop()
		return app.Watcher.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("watcher error: %v", err)
	}
	logger.Info("watcher stopped")
}
