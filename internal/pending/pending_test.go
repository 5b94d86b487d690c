package pending

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/city-pulse/internal/models"
)

type stubWriter struct {
	failures int
	written  []kafka.Message
	closed   bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishRoundTrip(t *testing.T) {
	w := &stubWriter{}
	p := &KafkaPublisher{writer: w, topic: "city_pending_enrichment"}

	records := []models.Record{{ID: "a", Kind: models.KindArticle, PublishedAt: "2024-08-12T00:30:00Z"}}
	require.NoError(t, p.Publish(context.Background(), Message{Index: "news_jakarta", Records: records, Reason: "timeout"}))
	require.Len(t, w.written, 1)
	require.Equal(t, "news_jakarta", string(w.written[0].Key))

	msg, err := Decode(w.written[0].Value)
	require.NoError(t, err)
	require.Equal(t, "news_jakarta", msg.Index)
	require.Equal(t, records, msg.Records)
	require.Equal(t, "timeout", msg.Reason)
	require.False(t, msg.FailedAt.IsZero())
	require.NotEmpty(t, msg.ID)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestDecodeRejectsUnusableMessages(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"records":[{"id":"a"}]}`))
	require.ErrorContains(t, err, "index")

	_, err = Decode([]byte(`{"index":"news_jakarta","records":[]}`))
	require.ErrorContains(t, err, "records")
}

func TestDeadLetterRetriesAndAnnotates(t *testing.T) {
	w := &stubWriter{failures: 2}
	d := &DeadLetter{writer: w, log: discardLogger(), attempts: 5, backoff: time.Millisecond}

	src := kafka.Message{Key: []byte("news_jakarta"), Value: []byte(`{}`), Partition: 3, Offset: 42}
	require.NoError(t, d.Send(context.Background(), src, errors.New("enrichment failed")))
	require.Len(t, w.written, 1)

	headers := map[string]string{}
	for _, h := range w.written[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "3", headers["original_partition"])
	require.Equal(t, "42", headers["original_offset"])
	require.Equal(t, "enrichment failed", headers["error"])
	require.Empty(t, src.Headers)
}

func TestDeadLetterGivesUp(t *testing.T) {
	w := &stubWriter{failures: 10}
	d := &DeadLetter{writer: w, log: discardLogger(), attempts: 2, backoff: time.Millisecond}

	err := d.Send(context.Background(), kafka.Message{Value: []byte(`{}`)}, errors.New("boom"))
	require.ErrorContains(t, err, "exhausted")
	require.Empty(t, w.written)
}

func TestDiscardNeverFails(t *testing.T) {
	require.NoError(t, Discard{}.Publish(context.Background(), Message{Index: "news_jakarta"}))
	require.Equal(t, "topic_dlq", DLQTopic("topic"))
}
