package fetch_test

import (
	"context"
	"errors"
	"sync"
	"time"
)

// stubSession serves canned pages keyed by the last navigated URL. When snapshots is set,
// Content returns them in order, repeating the last one.
type stubSession struct {
	mu        sync.Mutex
	pages     map[string]string
	failNav   map[string]bool
	waitErr   map[string]error
	snapshots []string

	current   string
	navigated []string
	scrolls   int
	reads     int
	onScroll  func()
}

func (s *stubSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	if s.failNav[url] {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	s.current = url
	return nil
}

func (s *stubSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) > 0 {
		i := s.reads
		if i >= len(s.snapshots) {
			i = len(s.snapshots) - 1
		}
		s.reads++
		return s.snapshots[i], nil
	}
	s.reads++
	page, ok := s.pages[s.current]
	if !ok {
		return "", errors.New("no page")
	}
	return page, nil
}

func (s *stubSession) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr[selector]
}

func (s *stubSession) Scroll(context.Context, int) error {
	s.mu.Lock()
	s.scrolls++
	hook := s.onScroll
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (s *stubSession) Close() error { return nil }
