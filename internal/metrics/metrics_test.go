package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
)

func TestRecordBulk(t *testing.T) {
	before := testutil.ToFloat64(IndexedDocumentsTotal.WithLabelValues("news_test", "failed"))

	RecordBulk("news_test", &elasticsearch.BulkReport{
		Indexed: 3,
		Failed:  []elasticsearch.ItemFailure{{ID: "x", Status: 400}},
	})
	RecordBulk("news_test", nil)

	require.InDelta(t, 3, testutil.ToFloat64(IndexedDocumentsTotal.WithLabelValues("news_test", "indexed")), 1e-9)
	require.InDelta(t, before+1, testutil.ToFloat64(IndexedDocumentsTotal.WithLabelValues("news_test", "failed")), 1e-9)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordEnrichment("ok", 1500*time.Millisecond)
	ExtractedRecordsTotal.WithLabelValues("post").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `citypulse_enrichment_chunks_total{outcome="ok"}`)
	require.Contains(t, string(body), "citypulse_enrichment_duration_seconds_bucket")
	require.Contains(t, string(body), `citypulse_extracted_records_total{kind="post"}`)
}
