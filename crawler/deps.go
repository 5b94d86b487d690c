package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
	"github.com/DeafMist/city-pulse/internal/extract"
	"github.com/DeafMist/city-pulse/internal/fetch"
	"github.com/DeafMist/city-pulse/internal/pending"
	"github.com/DeafMist/city-pulse/internal/pipeline"
)

type mode string

const (
	modeNews     mode = "news"
	modeTimeline mode = "timeline"
)

// newDeps builds the collaborators of one run. On error everything built so far is released.
func newDeps(ctx context.Context, cfg *config.Crawler, log *slog.Logger, m mode) (_ *pipeline.Deps, err error) {
	deps := &pipeline.Deps{Log: log}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	es, err := elasticsearch.New(cfg.Elasticsearch(), log)
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	if err := es.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	deps.Indexer = es

	gemini, err := enrich.NewGemini(ctx, cfg.Gemini.Client())
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	deps.Enricher = enrich.New(gemini.Structured(), enrich.Options{
		Timeout:    cfg.Gemini.Timeout,
		MaxRetries: cfg.Gemini.MaxRetries,
	}, log)

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := pending.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.PendingTopic)
		deps.OnClose(publisher)
		deps.Pending = publisher
		log.Info("failed chunks go to kafka", slog.String("topic", cfg.Kafka.PendingTopic))
	} else {
		deps.Pending = pending.Discard{Log: log}
		log.Warn("no kafka brokers configured, failed chunks will be dropped")
	}

	session, err := fetch.NewChromeSession(ctx, fetch.ChromeOptions{
		Headless:      cfg.BrowserHeadless,
		UserDataDir:   cfg.BrowserUserDataDir,
		ActionTimeout: cfg.FetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	deps.OnClose(session)

	switch m {
	case modeNews:
		limiter := newLimiter(cfg.FetchRate)
		deps.Search = fetch.NewSearchFetcher(session, fetch.SearchOptions{
			Wait:    cfg.SerpWait,
			Limiter: limiter,
		}, log)

		var source extract.RawSource
		if cfg.ArticleSource == "browser" {
			source = fetch.NewBrowserSource(session, cfg.ArticleSettle)
		} else {
			source = fetch.NewHTTPSource(cfg.FetchTimeout, limiter)
		}
		deps.Articles = extract.NewArticleExtractor(source, extract.NewLanguageDetector(cfg.Languages), log)

	case modeTimeline:
		deps.Timeline = fetch.NewTimelineScroller(session, fetch.TimelineOptions{
			URL:         cfg.TimelineURL,
			MaxScrolls:  cfg.TimelineMaxScrolls,
			MaxDuration: cfg.TimelineMaxDuration,
			IdleRounds:  cfg.TimelineIdleRounds,
			ScrollDelta: cfg.TimelineScrollDelta,
			Pause:       cfg.TimelineScrollPause,
		}, log)
	}

	return deps, nil
}

// newLimiter paces outbound fetches; a zero rate disables pacing.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
