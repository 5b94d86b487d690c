package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/dedupe"
	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
	"github.com/DeafMist/city-pulse/internal/logger"
	"github.com/DeafMist/city-pulse/internal/merge"
	"github.com/DeafMist/city-pulse/internal/metrics"
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/pending"
)

type enricher interface {
	Enrich(ctx context.Context, chunk []models.Record) ([]models.Enrichment, error)
}

type documentIndexer interface {
	EnsureIndex(ctx context.Context, index string) (bool, error)
	BulkUpsert(ctx context.Context, index string, docs []models.Document) (*elasticsearch.BulkReport, error)
}

// handler re-enriches pending chunks and indexes the result.
type handler struct {
	log      *slog.Logger
	enricher enricher
	indexer  documentIndexer
	cache    *dedupe.Cache
	ensured  map[string]bool
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.Elasticsearch(), log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	gemini, err := enrich.NewGemini(ctx, cfg.Gemini.Client())
	if err != nil {
		log.Error("init gemini", slog.Any("err", err))
		os.Exit(1)
	}

	h := &handler{
		log: log,
		enricher: enrich.New(gemini.Structured(), enrich.Options{
			Timeout:    cfg.Gemini.Timeout,
			MaxRetries: cfg.Gemini.MaxRetries,
		}, log),
		indexer: esClient,
		cache:   dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		ensured: make(map[string]bool),
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.PendingTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.QueueCapacity,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer reader.Close()

	dlq := pending.NewDeadLetter(cfg.Kafka.Brokers, cfg.Kafka.PendingTopic, log)
	defer dlq.Close()

	log.Info("worker started",
		slog.String("topic", cfg.Kafka.PendingTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", pending.DLQTopic(cfg.Kafka.PendingTopic)),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := h.processMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("context canceled mid-message, leaving offset uncommitted")
				return
			}
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			// Only commit once the DLQ holds the message; otherwise it is redelivered on restart.
			if dlqErr := dlq.Send(ctx, msg, err); dlqErr != nil {
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Any("err", dlqErr),
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
			if err := reader.CommitMessages(ctx, msg); err != nil {
				log.Error("commit failed message to dlq", slog.Any("err", err))
			}
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

func (h *handler) processMessage(ctx context.Context, msg kafka.Message) error {
	pm, err := pending.Decode(msg.Value)
	if err != nil {
		return err
	}

	key := messageKey(pm, msg)
	if h.cache.IsSeen(key) {
		h.log.Debug("duplicate pending chunk", slog.String("chunk", key))
		return nil
	}

	start := time.Now()
	enrichments, err := h.enricher.Enrich(ctx, pm.Records)
	if err != nil {
		metrics.RecordEnrichment("failed", time.Since(start))
		return fmt.Errorf("enrich chunk %s: %w", key, err)
	}
	metrics.RecordEnrichment("ok", time.Since(start))

	docs := merge.Merge(pm.Records, enrichments)
	if len(docs) == 0 {
		return fmt.Errorf("enrich chunk %s: model classified none of %d records", key, len(pm.Records))
	}

	if !h.ensured[pm.Index] {
		if _, err := h.indexer.EnsureIndex(ctx, pm.Index); err != nil {
			return err
		}
		h.ensured[pm.Index] = true
	}

	report, err := h.indexer.BulkUpsert(ctx, pm.Index, docs)
	if err != nil {
		return err
	}
	metrics.RecordBulk(pm.Index, report)

	h.log.Info("indexed pending chunk",
		slog.String("chunk", key),
		slog.String("index", pm.Index),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		return fmt.Errorf("index chunk %s: %d documents rejected, first: %s", key, len(report.Failed), report.Failed[0].Reason)
	}
	if missing := len(pm.Records) - len(docs); missing > 0 {
		return fmt.Errorf("enrich chunk %s: %d of %d records left unclassified", key, missing, len(pm.Records))
	}

	h.cache.MarkSeen(key)
	return nil
}

// messageKey identifies a pending chunk across redeliveries.
func messageKey(pm pending.Message, msg kafka.Message) string {
	if pm.ID != "" {
		return pm.ID
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
