package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
	"github.com/DeafMist/city-pulse/internal/fetch"
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/pending"
	"github.com/DeafMist/city-pulse/internal/pipeline"
	"github.com/stretchr/testify/require"
)

type stubSearch struct {
	urls []string
	err  error
}

func (s stubSearch) Fetch(context.Context, []string) ([]string, error) {
	return s.urls, s.err
}

type stubArticles struct {
	fail map[string]bool
}

func (s stubArticles) Extract(_ context.Context, u string) (*models.Record, error) {
	if s.fail[u] {
		return nil, errors.New("boom")
	}
	return &models.Record{
		ID:          "id-" + u,
		Kind:        models.KindArticle,
		SourceURL:   u,
		Title:       "title " + u,
		Body:        "body",
		PublishedAt: "2024-05-01T00:00:00Z",
	}, nil
}

// stubEnricher fails every chunk containing an id listed in failIDs.
type stubEnricher struct {
	mu      sync.Mutex
	failIDs map[string]bool
	calls   int
}

func (s *stubEnricher) Enrich(_ context.Context, chunk []models.Record) ([]models.Enrichment, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	out := make([]models.Enrichment, 0, len(chunk))
	for _, r := range chunk {
		if s.failIDs[r.ID] {
			return nil, fmt.Errorf("model unavailable")
		}
		out = append(out, models.Enrichment{ID: r.ID, Sentiment: "Neutral", TopicClassification: "Social and Economy"})
	}
	return out, nil
}

type stubIndexer struct {
	ensured []string
	docs    map[string][]models.Document
	err     error
}

func (s *stubIndexer) EnsureIndex(_ context.Context, index string) (bool, error) {
	s.ensured = append(s.ensured, index)
	return true, s.err
}

func (s *stubIndexer) BulkUpsert(_ context.Context, index string, docs []models.Document) (*elasticsearch.BulkReport, error) {
	if s.docs == nil {
		s.docs = make(map[string][]models.Document)
	}
	s.docs[index] = append(s.docs[index], docs...)
	return &elasticsearch.BulkReport{Requested: len(docs), Indexed: len(docs)}, nil
}

type stubPublisher struct {
	msgs []pending.Message
}

func (p *stubPublisher) Publish(_ context.Context, msg pending.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type stubTimeline struct {
	snapshots []string
	err       error
}

func (s stubTimeline) Collect(ctx context.Context, onSnapshot fetch.SnapshotFunc) (fetch.TimelineStats, error) {
	if s.err != nil {
		return fetch.TimelineStats{}, s.err
	}
	stats := fetch.TimelineStats{Reason: "no new posts"}
	for _, html := range s.snapshots {
		onSnapshot(ctx, &models.RawDocument{URL: "https://x.com/home", HTML: html, FetchedAt: time.Date(2024, 5, 13, 6, 0, 0, 0, time.UTC)})
		stats.Snapshots++
	}
	return stats, nil
}

func TestRunNewsFailedChunkIsDeferred(t *testing.T) {
	enricher := &stubEnricher{failIDs: map[string]bool{"id-c": true}}
	indexer := &stubIndexer{}
	publisher := &stubPublisher{}

	deps := &pipeline.Deps{
		Search:   stubSearch{urls: []string{"a", "b", "c", "d", "e"}},
		Articles: stubArticles{fail: map[string]bool{"e": true}},
		Enricher: enricher,
		Indexer:  indexer,
		Pending:  publisher,
	}
	r := pipeline.NewRunner(deps, pipeline.Options{NewsIndex: "news", BatchSize: 2, ArticleWorkers: 3})

	report, err := r.RunNews(context.Background(), []string{"banjir"})
	require.NoError(t, err)

	require.Equal(t, []string{"news"}, indexer.ensured)
	require.Equal(t, 5, report.URLs)
	require.Equal(t, 4, report.Records)
	require.Equal(t, 1, report.ExtractFailures)
	require.Equal(t, 2, report.Chunks)
	require.Equal(t, 1, report.ChunksFailed)
	require.Equal(t, 2, enricher.calls)

	var ids []string
	for _, d := range indexer.docs["news"] {
		ids = append(ids, d.ID)
		require.Equal(t, "Neutral", d.Sentiment)
	}
	require.Equal(t, []string{"id-a", "id-b"}, ids)

	require.Len(t, publisher.msgs, 1)
	require.Equal(t, "news", publisher.msgs[0].Index)
	require.Len(t, publisher.msgs[0].Records, 2)
	require.Equal(t, "id-c", publisher.msgs[0].Records[0].ID)
	require.Contains(t, publisher.msgs[0].Reason, "model unavailable")
}

// chattyGenerator answers without any JSON array for prompts mentioning id-c.
type chattyGenerator struct{}

func (chattyGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "id-c") {
		return "Maaf, saya tidak bisa mengklasifikasikan berita ini.", nil
	}
	return `Here you go:
[{"id":"id-a","topic_classification":"Environment and Disaster","urgency_level":80,"sentiment":"Negative","target_audience":["General Public"],"affected_region":"North Jakarta","contextual_summary":"Banjir","contextual_keywords":["banjir"]},
 {"id":"id-b","topic_classification":"Public Health","urgency_level":"20","sentiment":"Neutral","target_audience":"Healthcare Workers","affected_region":"DKI Jakarta","contextual_summary":"Vaksin","contextual_keywords":["vaksin"]}]`, nil
}

func TestRunNewsReplyWithoutArray(t *testing.T) {
	indexer := &stubIndexer{}
	publisher := &stubPublisher{}
	deps := &pipeline.Deps{
		Search:   stubSearch{urls: []string{"a", "b", "c", "d"}},
		Articles: stubArticles{},
		Enricher: enrich.New(chattyGenerator{}, enrich.Options{MaxRetries: 0, InitialBackoff: time.Millisecond}, nil),
		Indexer:  indexer,
		Pending:  publisher,
	}

	report, err := pipeline.NewRunner(deps, pipeline.Options{NewsIndex: "news", BatchSize: 2}).RunNews(context.Background(), []string{"banjir"})
	require.NoError(t, err)
	require.Equal(t, 1, report.ChunksFailed)
	require.Equal(t, 2, report.Indexed)

	docs := indexer.docs["news"]
	require.Len(t, docs, 2)
	require.Equal(t, "Environment and Disaster", docs[0].TopicClassification)
	require.Equal(t, 20, docs[1].UrgencyLevel)
	require.Len(t, publisher.msgs, 1)
}

// partialGenerator classifies id-a and gives id-b a region outside the known set.
type partialGenerator struct{}

func (partialGenerator) Generate(context.Context, string) (string, error) {
	return `[{"id":"id-a","topic_classification":"Infrastructure and Transportation","urgency_level":40,"sentiment":"Neutral","target_audience":["Public Transport Users"],"affected_region":"West Jakarta","contextual_summary":"Macet","contextual_keywords":["macet"]},
 {"id":"id-b","topic_classification":"Infrastructure and Transportation","urgency_level":40,"sentiment":"Neutral","target_audience":["Public Transport Users"],"affected_region":"Bandung","contextual_summary":"Macet","contextual_keywords":["macet"]}]`, nil
}

func TestRunNewsRejectedItemIsDeferred(t *testing.T) {
	indexer := &stubIndexer{}
	publisher := &stubPublisher{}
	deps := &pipeline.Deps{
		Search:   stubSearch{urls: []string{"a", "b"}},
		Articles: stubArticles{},
		Enricher: enrich.New(partialGenerator{}, enrich.Options{MaxRetries: 0, InitialBackoff: time.Millisecond}, nil),
		Indexer:  indexer,
		Pending:  publisher,
	}

	report, err := pipeline.NewRunner(deps, pipeline.Options{NewsIndex: "news", BatchSize: 2}).RunNews(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.ChunksFailed)
	require.Equal(t, 1, report.Enriched)
	require.Equal(t, 1, report.Unenriched)

	docs := indexer.docs["news"]
	require.Len(t, docs, 1)
	require.Equal(t, "id-a", docs[0].ID)
	require.Equal(t, "West Jakarta", docs[0].AffectedRegion)

	require.Len(t, publisher.msgs, 1)
	require.Len(t, publisher.msgs[0].Records, 1)
	require.Equal(t, "id-b", publisher.msgs[0].Records[0].ID)
	require.Contains(t, publisher.msgs[0].Reason, "no valid enrichment")
}

func TestRunNewsIndexUnavailable(t *testing.T) {
	indexer := &stubIndexer{err: errors.New("connection refused")}
	deps := &pipeline.Deps{
		Search:   stubSearch{urls: []string{"a"}},
		Articles: stubArticles{},
		Enricher: &stubEnricher{},
		Indexer:  indexer,
	}

	_, err := pipeline.NewRunner(deps, pipeline.Options{NewsIndex: "news"}).RunNews(context.Background(), nil)
	require.ErrorContains(t, err, "prepare index")
	require.Nil(t, indexer.docs)
}

func TestRunNewsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	indexer := &stubIndexer{}
	deps := &pipeline.Deps{
		Search:   stubSearch{urls: []string{"a", "b"}},
		Articles: stubArticles{},
		Enricher: &stubEnricher{},
		Indexer:  indexer,
	}

	_, err := pipeline.NewRunner(deps, pipeline.Options{NewsIndex: "news"}).RunNews(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, indexer.docs)
}

const snapshot = `<html><body>
<article data-testid="tweet">
  <div data-testid="User-Name"><span>Warga</span><span>@warga</span><a href="/warga/status/11"><time datetime="2024-05-13T04:00:00.000Z">x</time></a></div>
  <div data-testid="tweetText"><span>Macet di Fatmawati</span></div>
  <span data-testid="app-text-transition-container"><span>%s</span></span>
</article>
<article data-testid="tweet">
  <div data-testid="User-Name"><span>Dinas</span><span>@dinas</span><a href="/dinas/status/12"><time datetime="2024-05-13T05:00:00.000Z">x</time></a></div>
  <div data-testid="tweetText"><span>Jalan ditutup</span></div>
</article>
</body></html>`

func TestRunTimelineDedupesPosts(t *testing.T) {
	indexer := &stubIndexer{}
	deps := &pipeline.Deps{
		Timeline: stubTimeline{snapshots: []string{fmt.Sprintf(snapshot, "1"), fmt.Sprintf(snapshot, "7")}},
		Enricher: &stubEnricher{},
		Indexer:  indexer,
	}

	report, err := pipeline.NewRunner(deps, pipeline.Options{PostsIndex: "posts", BatchSize: 20}).RunTimeline(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Records)
	require.Equal(t, 2, report.Indexed)

	docs := indexer.docs["posts"]
	require.Len(t, docs, 2)
	require.Equal(t, "11", docs[0].ID)
	require.Equal(t, int64(7), docs[0].Engagement.Replies)
	require.Equal(t, time.Date(2024, 5, 13, 4, 0, 0, 0, time.UTC), docs[0].PublishedAt)
}

func TestRunTimelineNotAuthenticated(t *testing.T) {
	deps := &pipeline.Deps{
		Timeline: stubTimeline{err: fetch.ErrNotAuthenticated},
		Enricher: &stubEnricher{},
		Indexer:  &stubIndexer{},
	}

	_, err := pipeline.NewRunner(deps, pipeline.Options{PostsIndex: "posts"}).RunTimeline(context.Background())
	require.ErrorIs(t, err, fetch.ErrNotAuthenticated)
}

type closer struct {
	name  string
	order *[]string
}

func (c closer) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestDepsCloseReverseOrder(t *testing.T) {
	var order []string
	deps := &pipeline.Deps{}
	deps.OnClose(closer{"browser", &order})
	deps.OnClose(closer{"publisher", &order})

	require.NoError(t, deps.Close())
	require.Equal(t, []string{"publisher", "browser"}, order)
}
