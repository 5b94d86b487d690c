package pending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopic names the dead-letter topic of topic.
func DLQTopic(topic string) string {
	return topic + "_dlq"
}

// DeadLetter forwards messages the worker gave up on, annotated with the failure.
type DeadLetter struct {
	writer   messageWriter
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

// NewDeadLetter creates a dead-letter writer for topic's DLQ.
func NewDeadLetter(brokers []string, topic string, log *slog.Logger) *DeadLetter {
	return &DeadLetter{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:     brokers,
			Topic:       DLQTopic(topic),
			MaxAttempts: 3,
		}),
		log:      log,
		attempts: 5,
		backoff:  time.Second,
	}
}

// Send writes msg to the DLQ, retrying with exponential backoff. It returns an error when
// every attempt failed or ctx ended; the caller must then leave the offset uncommitted.
func (d *DeadLetter) Send(ctx context.Context, msg kafka.Message, cause error) error {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	var lastErr error
	for attempt := range d.attempts {
		lastErr = d.writer.WriteMessages(ctx, dlqMsg)
		if lastErr == nil {
			d.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		wait := d.backoff * time.Duration(1<<uint(attempt))
		d.log.Warn("DLQ write failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("dlq write exhausted %d attempts: %w", d.attempts, lastErr)
}

func (d *DeadLetter) Close() error {
	return d.writer.Close()
}
