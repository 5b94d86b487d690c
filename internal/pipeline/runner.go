package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/city-pulse/internal/batch"
	"github.com/DeafMist/city-pulse/internal/extract"
	"github.com/DeafMist/city-pulse/internal/merge"
	"github.com/DeafMist/city-pulse/internal/metrics"
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/pending"
)

// bulkSize bounds the documents sent per bulk request.
const bulkSize = 500

// Options configures a Runner.
type Options struct {
	NewsIndex      string
	PostsIndex     string
	BatchSize      int
	ArticleWorkers int
}

// Report summarises one run.
type Report struct {
	URLs            int
	Records         int
	ExtractFailures int
	Chunks          int
	ChunksFailed    int
	Enriched        int
	Unenriched      int
	Indexed         int
	IndexFailed     int
}

// Runner drives fetch, extract, batch, enrich, merge and index for one run.
type Runner struct {
	deps *Deps
	opts Options
	log  *slog.Logger
}

// NewRunner binds a runner to deps.
func NewRunner(deps *Deps, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.ArticleWorkers <= 0 {
		opts.ArticleWorkers = 1
	}
	return &Runner{deps: deps, opts: opts, log: deps.logger()}
}

// RunNews searches every keyword, extracts the discovered articles and indexes them enriched.
func (r *Runner) RunNews(ctx context.Context, keywords []string) (*Report, error) {
	if _, err := r.deps.Indexer.EnsureIndex(ctx, r.opts.NewsIndex); err != nil {
		return nil, fmt.Errorf("prepare index: %w", err)
	}

	report := &Report{}
	urls, err := r.deps.Search.Fetch(ctx, keywords)
	if err != nil {
		return report, fmt.Errorf("search: %w", err)
	}
	report.URLs = len(urls)
	metrics.FetchedURLsTotal.Add(float64(len(urls)))
	r.log.Info("urls discovered", slog.Int("urls", len(urls)), slog.Int("keywords", len(keywords)))

	records, failures, err := r.extractArticles(ctx, urls)
	report.ExtractFailures = failures
	if err != nil {
		return report, err
	}

	if err := r.process(ctx, r.opts.NewsIndex, records, report); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) extractArticles(ctx context.Context, urls []string) ([]models.Record, int, error) {
	results := make([]*models.Record, len(urls))
	failed := make([]bool, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ArticleWorkers)
	for i, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := r.deps.Articles.Extract(gctx, u)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = true
				metrics.ExtractionFailuresTotal.WithLabelValues(string(models.KindArticle)).Inc()
				r.log.Warn("article skipped", slog.String("url", u), slog.Any("err", err))
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	records := make([]models.Record, 0, len(urls))
	failures := 0
	for i, rec := range results {
		if failed[i] {
			failures++
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	metrics.ExtractedRecordsTotal.WithLabelValues(string(models.KindArticle)).Add(float64(len(records)))
	return records, failures, nil
}

// RunTimeline scrolls the configured timeline and indexes the posts it rendered.
func (r *Runner) RunTimeline(ctx context.Context) (*Report, error) {
	if _, err := r.deps.Indexer.EnsureIndex(ctx, r.opts.PostsIndex); err != nil {
		return nil, fmt.Errorf("prepare index: %w", err)
	}

	report := &Report{}
	byID := make(map[string]int)
	var records []models.Record

	onSnapshot := func(_ context.Context, snap *models.RawDocument) []string {
		posts, errs := extract.ParsePosts(snap.HTML, snap.FetchedAt)
		for _, err := range errs {
			report.ExtractFailures++
			metrics.ExtractionFailuresTotal.WithLabelValues(string(models.KindPost)).Inc()
			r.log.Debug("post skipped", slog.Any("err", err))
		}
		ids := make([]string, 0, len(posts))
		for _, p := range posts {
			ids = append(ids, p.ID)
			// Later snapshots carry fresher counters.
			if i, ok := byID[p.ID]; ok {
				records[i] = p
				continue
			}
			byID[p.ID] = len(records)
			records = append(records, p)
		}
		return ids
	}

	stats, err := r.deps.Timeline.Collect(ctx, onSnapshot)
	if err != nil {
		return report, fmt.Errorf("collect timeline: %w", err)
	}
	metrics.ExtractedRecordsTotal.WithLabelValues(string(models.KindPost)).Add(float64(len(records)))
	r.log.Info("timeline done",
		slog.Int("snapshots", stats.Snapshots),
		slog.Int("posts", len(records)),
		slog.String("stop", stats.Reason),
	)

	if err := r.process(ctx, r.opts.PostsIndex, records, report); err != nil {
		return report, err
	}
	return report, nil
}

// process batches, enriches, merges and indexes records. A chunk whose enrichment
// fails is handed to the pending publisher and the run continues with the others.
func (r *Runner) process(ctx context.Context, index string, records []models.Record, report *Report) error {
	report.Records = len(records)
	if len(records) == 0 {
		r.log.Info("nothing to index", slog.String("index", index))
		return nil
	}

	chunks := batch.Chunk(records, r.opts.BatchSize)
	report.Chunks = len(chunks)

	var enrichments []models.Enrichment
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		got, err := r.deps.Enricher.Enrich(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RecordEnrichment("failed", time.Since(start))
			report.ChunksFailed++
			r.log.Warn("chunk enrichment failed",
				slog.Int("chunk", i),
				slog.Int("records", len(chunk)),
				slog.Any("err", err),
			)
			r.deferChunk(ctx, index, chunk, err)
			continue
		}
		metrics.RecordEnrichment("ok", time.Since(start))
		enrichments = append(enrichments, got...)

		if missing := unenriched(chunk, got); len(missing) > 0 {
			report.Unenriched += len(missing)
			r.log.Warn("records left unenriched",
				slog.Int("chunk", i),
				slog.Int("records", len(missing)),
			)
			r.deferChunk(ctx, index, missing, errNoValidResult)
		}
	}
	report.Enriched = len(enrichments)

	docs := merge.Merge(records, enrichments)
	return r.index(ctx, index, docs, report)
}

var errNoValidResult = errors.New("model returned no valid enrichment")

// unenriched returns the records of chunk without an enrichment in got.
func unenriched(chunk []models.Record, got []models.Enrichment) []models.Record {
	done := make(map[string]struct{}, len(got))
	for _, e := range got {
		done[e.ID] = struct{}{}
	}
	var missing []models.Record
	for _, rec := range chunk {
		if _, ok := done[rec.ID]; !ok {
			missing = append(missing, rec)
		}
	}
	return missing
}

func (r *Runner) deferChunk(ctx context.Context, index string, chunk []models.Record, cause error) {
	msg := pending.Message{Index: index, Records: chunk, Reason: cause.Error(), FailedAt: time.Now().UTC()}
	if err := r.deps.pendingPublisher().Publish(ctx, msg); err != nil {
		r.log.Error("pending publish failed, chunk dropped",
			slog.Int("records", len(chunk)),
			slog.Any("err", err),
		)
	}
}

func (r *Runner) index(ctx context.Context, index string, docs []models.Document, report *Report) error {
	var errs []error
	for _, part := range batch.Chunk(docs, bulkSize) {
		res, err := r.deps.Indexer.BulkUpsert(ctx, index, part)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.IndexFailed += len(part)
			r.log.Error("bulk upsert failed", slog.String("index", index), slog.Int("docs", len(part)), slog.Any("err", err))
			errs = append(errs, err)
			continue
		}
		metrics.RecordBulk(index, res)
		report.Indexed += res.Indexed
		report.IndexFailed += len(res.Failed)
		for _, f := range res.Failed {
			r.log.Warn("document rejected", slog.String("id", f.ID), slog.Int("status", f.Status), slog.String("reason", f.Reason))
		}
	}

	r.log.Info("indexed",
		slog.String("index", index),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.IndexFailed),
	)
	if len(errs) > 0 {
		return fmt.Errorf("index %s: %w", index, errors.Join(errs...))
	}
	return nil
}
