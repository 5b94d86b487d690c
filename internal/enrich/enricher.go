package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DeafMist/city-pulse/internal/models"
)

// Options tunes the enrichment call.
type Options struct {
	// Timeout bounds a single model call.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Enricher classifies chunks of records with a generative model.
type Enricher struct {
	gen  Generator
	opts Options
	log  *slog.Logger
}

// New builds an Enricher around gen.
func New(gen Generator, opts Options, logger *slog.Logger) *Enricher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Enricher{gen: gen, opts: opts, log: logger}
}

// Enrich returns the enrichments for chunk. Records the model did not classify are
// simply absent from the result. An error means no usable reply was obtained.
func (e *Enricher) Enrich(ctx context.Context, chunk []models.Record) ([]models.Enrichment, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	prompt, err := BuildPrompt(chunk)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(chunk))
	for i, r := range chunk {
		ids[i] = r.ID
	}

	var results []models.Enrichment
	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		reply, err := e.gen.Generate(callCtx, prompt)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		parsed, issues, err := ParseReply(reply, ids)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			e.log.Warn("enrichment item rejected", slog.Any("err", issue))
		}
		results = parsed
		return nil
	}

	err = backoff.RetryNotify(op, e.policy(ctx), func(err error, wait time.Duration) {
		e.log.Warn("enrichment attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("records", len(chunk)),
			slog.Duration("retry_in", wait),
			slog.Any("err", err),
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("enrich chunk of %d after %d attempts: %w", len(chunk), attempt, err)
	}
	return results, nil
}

func (e *Enricher) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.InitialBackoff
	exp.MaxInterval = e.opts.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.opts.MaxRetries)), ctx)
}
