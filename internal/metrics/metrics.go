package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
)

var (
	FetchedURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citypulse_fetched_urls_total",
			Help: "Distinct article URLs discovered on search result pages",
		},
	)

	ExtractedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_extracted_records_total",
			Help: "Records produced by the extractors",
		},
		[]string{"kind"},
	)

	ExtractionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_extraction_failures_total",
			Help: "Pages or post elements that yielded no record",
		},
		[]string{"kind"},
	)

	EnrichmentChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_enrichment_chunks_total",
			Help: "Enrichment calls by outcome",
		},
		[]string{"outcome"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citypulse_enrichment_duration_seconds",
			Help:    "Duration of a chunk enrichment including retries",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	IndexedDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_indexed_documents_total",
			Help: "Documents written by bulk upserts, by index and result",
		},
		[]string{"index", "result"},
	)
)

// RecordBulk updates the index counters from a bulk report.
func RecordBulk(index string, report *elasticsearch.BulkReport) {
	if report == nil {
		return
	}
	IndexedDocumentsTotal.WithLabelValues(index, "indexed").Add(float64(report.Indexed))
	IndexedDocumentsTotal.WithLabelValues(index, "failed").Add(float64(len(report.Failed)))
}

// RecordEnrichment counts one chunk outcome and its latency.
func RecordEnrichment(outcome string, took time.Duration) {
	EnrichmentChunksTotal.WithLabelValues(outcome).Inc()
	EnrichmentDuration.Observe(took.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on addr and exposes /metrics.
func Start(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("err", err))
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
