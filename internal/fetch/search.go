package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	// DefaultSearchURL is the news vertical of the results page used for keyword discovery.
	DefaultSearchURL = "https://duckduckgo.com/"
	// MoreResultsSelector marks a fully rendered results page.
	MoreResultsSelector = "a.result--more"
)

// SearchOptions configures a SearchFetcher.
type SearchOptions struct {
	BaseURL string
	// Wait bounds how long a results page may take to render.
	Wait time.Duration
	// Limiter paces queries; nil disables pacing.
	Limiter *rate.Limiter
}

// SearchFetcher discovers article URLs by querying a search engine results page per keyword.
type SearchFetcher struct {
	session Session
	opts    SearchOptions
	log     *slog.Logger
	host    string
}

// NewSearchFetcher builds a fetcher driving session.
func NewSearchFetcher(session Session, opts SearchOptions, logger *slog.Logger) *SearchFetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultSearchURL
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	host := ""
	if u, err := url.Parse(opts.BaseURL); err == nil {
		host = u.Hostname()
	}
	return &SearchFetcher{session: session, opts: opts, log: logger, host: host}
}

// QueryURL returns the results page address for keyword.
func (f *SearchFetcher) QueryURL(keyword string) string {
	q := url.Values{}
	q.Set("q", strings.Join(strings.Fields(keyword), " "))
	q.Set("ia", "news")
	return strings.TrimRight(f.opts.BaseURL, "?") + "?" + q.Encode()
}

// Fetch runs one query per keyword and returns the distinct outbound links in discovery order.
// A keyword that fails is logged and skipped. Cancellation returns the links gathered so far.
func (f *SearchFetcher) Fetch(ctx context.Context, keywords []string) ([]string, error) {
	seen := make(map[string]struct{})
	var links []string

	for _, keyword := range keywords {
		if err := ctx.Err(); err != nil {
			return links, err
		}
		if f.opts.Limiter != nil {
			if err := f.opts.Limiter.Wait(ctx); err != nil {
				return links, err
			}
		}

		found, err := f.fetchKeyword(ctx, keyword)
		if err != nil {
			if ctx.Err() != nil {
				return links, ctx.Err()
			}
			f.log.Warn("search keyword failed", slog.String("keyword", keyword), slog.Any("err", err))
			continue
		}

		added := 0
		for _, link := range found {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			links = append(links, link)
			added++
		}
		f.log.Info("search keyword done",
			slog.String("keyword", keyword),
			slog.Int("links", len(found)),
			slog.Int("new", added),
		)
	}

	return links, nil
}

func (f *SearchFetcher) fetchKeyword(ctx context.Context, keyword string) ([]string, error) {
	if err := f.session.Navigate(ctx, f.QueryURL(keyword)); err != nil {
		return nil, err
	}

	// A page without the affordance may still carry results.
	if err := f.session.WaitFor(ctx, MoreResultsSelector, f.opts.Wait); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Warn("results page incomplete", slog.String("keyword", keyword), slog.Any("err", err))
	}

	page, err := f.session.Content(ctx)
	if err != nil {
		return nil, err
	}
	return ExtractLinks(page, f.host)
}

// ExtractLinks returns the distinct http(s) hrefs in page, excluding links back to excludeHost,
// its subdomains and its parent domains.
func ExtractLinks(page, excludeHost string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	excluded := bareHost(excludeHost)
	seen := make(map[string]struct{})
	var links []string
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		u, err := url.Parse(href)
		if err != nil || u.Hostname() == "" {
			return
		}
		if excluded != "" && sameSite(bareHost(u.Hostname()), excluded) {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links, nil
}

func bareHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSuffix(host, ".")), "www.")
}

// sameSite reports whether a equals b or one is a dot-separated suffix of the other.
// IP hosts only match exactly.
func sameSite(a, b string) bool {
	if a == b {
		return true
	}
	if net.ParseIP(a) != nil || net.ParseIP(b) != nil {
		return false
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
