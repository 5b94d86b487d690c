package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/logger"
)

type pruner interface {
	DeleteOlderThan(ctx context.Context, index string, maxAge time.Duration, batchSize int) (int64, error)
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := connect(ctx, log, cfg)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("connected to elasticsearch")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
		slog.Any("indices", cfg.Indices()),
	)

	// Run immediately on start, but don't fail if ES is temporarily unavailable
	runOnce(ctx, log, esClient, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, esClient, cfg)
		}
	}
}

// connect builds the client and waits for the cluster to answer a ping, backing off up to 30s between attempts.
func connect(ctx context.Context, log *slog.Logger, cfg *config.Retention) (*elasticsearch.Client, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	var esClient *elasticsearch.Client
	attempt := 0
	op := func() error {
		attempt++
		client, err := elasticsearch.New(cfg.Elasticsearch(), log)
		if err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			return err
		}
		esClient = client
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, 10), ctx), notify)
	return esClient, err
}

func runOnce(ctx context.Context, log *slog.Logger, es pruner, cfg *config.Retention) {
	for _, index := range cfg.Indices() {
		subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		deleted, err := es.DeleteOlderThan(subCtx, index, cfg.MaxAge, cfg.BatchSize)
		cancel()
		if err != nil {
			log.Warn("retention run failed (will retry on next interval)", slog.String("index", index), slog.Any("err", err))
			continue
		}

		if deleted > 0 {
			log.Info("retention run completed", slog.String("index", index), slog.Int64("deleted", deleted))
		} else {
			log.Debug("retention run completed, no old documents found", slog.String("index", index))
		}
	}
}
