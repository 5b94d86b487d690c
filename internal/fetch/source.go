package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/city-pulse/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 5 << 20
)

// HTTPSource fetches article pages with a plain HTTP client.
type HTTPSource struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPSource builds a source whose requests are bounded by timeout. limiter may be nil.
func NewHTTPSource(timeout time.Duration, limiter *rate.Limiter) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: defaultUserAgent,
	}
}

// Fetch downloads rawURL. Non-2xx statuses are errors.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (*models.RawDocument, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	return &models.RawDocument{URL: rawURL, HTML: string(body), FetchedAt: time.Now().UTC()}, nil
}

// BrowserSource renders article pages in a browser session, for sites that need scripts to render.
// Calls are serialized because a session drives a single tab.
type BrowserSource struct {
	mu      sync.Mutex
	session Session
	settle  time.Duration
}

// NewBrowserSource wraps session. settle is the pause after navigation before the page is read.
func NewBrowserSource(session Session, settle time.Duration) *BrowserSource {
	return &BrowserSource{session: session, settle: settle}
}

func (s *BrowserSource) Fetch(ctx context.Context, rawURL string) (*models.RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.Navigate(ctx, rawURL); err != nil {
		return nil, err
	}
	if err := sleep(ctx, s.settle); err != nil {
		return nil, err
	}
	page, err := s.session.Content(ctx)
	if err != nil {
		return nil, err
	}
	return &models.RawDocument{URL: rawURL, HTML: page, FetchedAt: time.Now().UTC()}, nil
}
