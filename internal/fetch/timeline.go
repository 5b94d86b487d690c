package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DeafMist/city-pulse/internal/dedupe"
	"github.com/DeafMist/city-pulse/internal/models"
)

const (
	// DefaultTimelineURL is the home timeline of the signed-in account.
	DefaultTimelineURL = "https://x.com/home"
	// SignedInSelector only renders for an authenticated session.
	SignedInSelector = `div[data-testid="primaryColumn"]`
)

// TimelineOptions bounds a scrolling run. A run stops at whichever of MaxScrolls,
// MaxDuration or IdleRounds trips first.
type TimelineOptions struct {
	URL         string
	MaxScrolls  int
	MaxDuration time.Duration
	// IdleRounds is the number of consecutive snapshots without a new post id that ends the run.
	IdleRounds  int
	ScrollDelta int
	// Pause lets the page render after each scroll.
	Pause    time.Duration
	AuthWait time.Duration
}

// SnapshotFunc consumes one rendered timeline snapshot and returns the post ids it contained.
type SnapshotFunc func(ctx context.Context, snapshot *models.RawDocument) []string

// TimelineStats summarises a scrolling run.
type TimelineStats struct {
	Snapshots int
	Failed    int
	UniqueIDs int
	Reason    string
}

// TimelineScroller repeatedly captures and scrolls an authenticated timeline.
type TimelineScroller struct {
	session Session
	opts    TimelineOptions
	log     *slog.Logger
	now     func() time.Time
}

// NewTimelineScroller builds a scroller; zero options take conservative defaults.
func NewTimelineScroller(session Session, opts TimelineOptions, logger *slog.Logger) *TimelineScroller {
	if opts.URL == "" {
		opts.URL = DefaultTimelineURL
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = 50
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 5 * time.Minute
	}
	if opts.IdleRounds <= 0 {
		opts.IdleRounds = 1
	}
	if opts.ScrollDelta == 0 {
		opts.ScrollDelta = 1000
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if opts.AuthWait <= 0 {
		opts.AuthWait = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TimelineScroller{session: session, opts: opts, log: logger, now: time.Now}
}

// Collect opens the timeline and feeds snapshots to onSnapshot until a bound is reached.
// It returns ErrNotAuthenticated when the session is not signed in.
func (t *TimelineScroller) Collect(ctx context.Context, onSnapshot SnapshotFunc) (TimelineStats, error) {
	var stats TimelineStats

	if err := t.session.Navigate(ctx, t.opts.URL); err != nil {
		return stats, fmt.Errorf("open timeline: %w", err)
	}
	if err := t.session.WaitFor(ctx, SignedInSelector, t.opts.AuthWait); err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		return stats, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	seen := dedupe.NewCache(1<<16, 24*time.Hour)
	start := t.now()
	idle := 0

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			stats.UniqueIDs = seen.Len()
			return stats, err
		}
		if round >= t.opts.MaxScrolls {
			stats.Reason = "max scrolls"
			break
		}
		if t.now().Sub(start) >= t.opts.MaxDuration {
			stats.Reason = "max duration"
			break
		}

		page, err := t.session.Content(ctx)
		if err != nil {
			stats.Failed++
			t.log.Warn("timeline snapshot failed", slog.Int("round", round), slog.Any("err", err))
		} else {
			stats.Snapshots++
			fresh := 0
			for _, id := range onSnapshot(ctx, &models.RawDocument{URL: t.opts.URL, HTML: page, FetchedAt: t.now().UTC()}) {
				if seen.Observe(id) {
					fresh++
				}
			}
			t.log.Debug("timeline snapshot", slog.Int("round", round), slog.Int("new_ids", fresh))

			if fresh == 0 {
				idle++
				if idle >= t.opts.IdleRounds {
					stats.Reason = "no new posts"
					break
				}
			} else {
				idle = 0
			}
		}

		if err := t.session.Scroll(ctx, t.opts.ScrollDelta); err != nil {
			stats.Failed++
			t.log.Warn("timeline scroll failed", slog.Int("round", round), slog.Any("err", err))
		}
		if err := sleep(ctx, t.opts.Pause); err != nil {
			stats.UniqueIDs = seen.Len()
			return stats, err
		}
	}

	stats.UniqueIDs = seen.Len()
	t.log.Info("timeline collected",
		slog.Int("snapshots", stats.Snapshots),
		slog.Int("unique_ids", stats.UniqueIDs),
		slog.String("reason", stats.Reason),
	)
	return stats, nil
}
