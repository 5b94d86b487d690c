package fetch

import (
	"context"
	"errors"
	"time"
)

// ErrNotAuthenticated is returned when a timeline page renders without a signed-in session.
var ErrNotAuthenticated = errors.New("browser session is not authenticated")

// Session is a navigable, scriptable page-rendering session.
// A session is owned by one fetcher at a time and is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Content returns the currently rendered document.
	Content(ctx context.Context) (string, error)
	// WaitFor blocks until selector matches an element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Scroll moves the viewport vertically by dy pixels.
	Scroll(ctx context.Context, dy int) error
	Close() error
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
