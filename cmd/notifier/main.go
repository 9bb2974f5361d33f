// Package main wires together the grading notifier service binary.
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

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/api"
	"github.com/mlpa-gradi/notifier/internal/clock/system"
	"github.com/mlpa-gradi/notifier/internal/config"
	"github.com/mlpa-gradi/notifier/internal/logging"
	"github.com/mlpa-gradi/notifier/internal/metrics"
	"github.com/mlpa-gradi/notifier/internal/poller"
	"github.com/mlpa-gradi/notifier/internal/queue"
	queueMemory "github.com/mlpa-gradi/notifier/internal/queue/memory"
	queuePubsub "github.com/mlpa-gradi/notifier/internal/queue/pubsub"
	"github.com/mlpa-gradi/notifier/internal/report"
	"github.com/mlpa-gradi/notifier/internal/session"
	"github.com/mlpa-gradi/notifier/internal/sse"
	"github.com/mlpa-gradi/notifier/internal/storage"
	"github.com/mlpa-gradi/notifier/internal/storage/gcs"
	"github.com/mlpa-gradi/notifier/internal/storage/local"
	"github.com/mlpa-gradi/notifier/internal/storage/postgres"
	"github.com/mlpa-gradi/notifier/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	signer, err := newSigner(ctx, cfg)
	if err != nil {
		logger.Fatal("storage signer init failed", zap.Error(err))
	}

	consumer, err := newConsumer(ctx, cfg)
	if err != nil {
		logger.Fatal("queue consumer init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := consumer.Close(); closeErr != nil {
			logger.Warn("queue consumer close failed", zap.Error(closeErr))
		}
	}()

	var exams store.ExamRepository
	if cfg.DB.DSN != "" {
		examStore, err := postgres.NewExamStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("exam store init failed", zap.Error(err))
		}
		defer examStore.Close()
		exams = examStore
	} else {
		logger.Info("no database configured, exam catalog endpoints disabled")
	}

	clock := system.New()
	registry := session.NewRegistry(clock, logger.Named("registry"))
	cache := report.NewUnknownImageCache()
	aggregator := session.NewAggregator(registry, signer, cache, clock, logger.Named("aggregator"))
	broadcaster := sse.NewBroadcaster(registry, cfg.SSE.BufferSize, logger.Named("broadcaster"))

	poll := poller.New(consumer, aggregator, broadcaster, poller.Config{
		Interval:    cfg.PollInterval(),
		MaxMessages: cfg.Poller.MaxMessages,
		Wait:        cfg.PollWait(),
		MaxFailures: cfg.Poller.MaxFailures,
	}, logger.Named("poller"))

	apiServer := api.NewServer(broadcaster, cache, signer, exams, poll, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go poll.Run(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newSigner(ctx context.Context, cfg config.Config) (storage.URLSigner, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{
			Bucket: cfg.Storage.Bucket,
			TTL:    cfg.SignTTL(),
		})
	case "local":
		return local.New(cfg.Storage.BaseURL, cfg.SignTTL()), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func newConsumer(ctx context.Context, cfg config.Config) (queue.Consumer, error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		return queuePubsub.New(ctx, cfg.Queue.ProjectID, cfg.Queue.SubscriptionID)
	case "memory":
		return queueMemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}
}
