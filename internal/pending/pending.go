// Package pending carries record chunks whose enrichment failed to a Kafka topic,
// where the worker picks them up for another attempt.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/city-pulse/internal/models"
)

// Message is the envelope published for a chunk awaiting enrichment.
type Message struct {
	// ID traces one chunk from the crawler through the worker and DLQ.
	ID       string          `json:"id"`
	Index    string          `json:"index"`
	Records  []models.Record `json:"records"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}

// Encode serializes m for the topic.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal pending message: %w", err)
	}
	return data, nil
}

// Decode parses a pending message and checks it is usable.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal pending message: %w", err)
	}
	if m.Index == "" {
		return Message{}, errors.New("pending message has no target index")
	}
	if len(m.Records) == 0 {
		return Message{}, errors.New("pending message has no records")
	}
	return m, nil
}

// Publisher persists chunks whose enrichment failed.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes pending messages to a topic, keyed by target index.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  5,
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.FailedAt.IsZero() {
		msg.FailedAt = time.Now().UTC()
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.Index), Value: data}); err != nil {
		return fmt.Errorf("publish pending chunk to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Discard logs and drops pending chunks. It is used when no brokers are configured.
type Discard struct {
	Log *slog.Logger
}

func (d Discard) Publish(_ context.Context, msg Message) error {
	log := d.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log.Warn("dropping chunk without enrichment",
		slog.String("index", msg.Index),
		slog.Int("records", len(msg.Records)),
		slog.String("reason", msg.Reason),
	)
	return nil
}

func (Discard) Close() error { return nil }
