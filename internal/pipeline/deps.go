package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/fetch"
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/pending"
)

// URLFetcher discovers article URLs for keywords.
type URLFetcher interface {
	Fetch(ctx context.Context, keywords []string) ([]string, error)
}

// ArticleExtractor turns one URL into a record.
type ArticleExtractor interface {
	Extract(ctx context.Context, url string) (*models.Record, error)
}

// TimelineCollector feeds timeline snapshots to a callback until a bound is reached.
type TimelineCollector interface {
	Collect(ctx context.Context, onSnapshot fetch.SnapshotFunc) (fetch.TimelineStats, error)
}

// Enricher classifies a chunk of records.
type Enricher interface {
	Enrich(ctx context.Context, chunk []models.Record) ([]models.Enrichment, error)
}

// Indexer writes documents into the search index.
type Indexer interface {
	EnsureIndex(ctx context.Context, index string) (bool, error)
	BulkUpsert(ctx context.Context, index string, docs []models.Document) (*elasticsearch.BulkReport, error)
}

// Deps holds the collaborators of one pipeline run. It is built when the run starts
// and released with Close when the run ends.
type Deps struct {
	Search   URLFetcher
	Articles ArticleExtractor
	Timeline TimelineCollector
	Enricher Enricher
	Indexer  Indexer
	Pending  pending.Publisher
	Log      *slog.Logger

	closers []io.Closer
}

// OnClose registers a resource released by Close, in reverse registration order.
func (d *Deps) OnClose(c io.Closer) {
	d.closers = append(d.closers, c)
}

// Close releases every registered resource.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Log
}

func (d *Deps) pendingPublisher() pending.Publisher {
	if d.Pending == nil {
		return pending.Discard{Log: d.Log}
	}
	return d.Pending
}
