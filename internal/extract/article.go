package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/pemistahl/lingua-go"

	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/processing"
)

// RawSource returns the rendered HTML of a URL.
type RawSource interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawDocument, error)
}

// ArticleExtractor turns article URLs into normalized records.
type ArticleExtractor struct {
	source   RawSource
	detector lingua.LanguageDetector
	log      *slog.Logger
	now      func() time.Time

	// SummarySentences bounds the fallback summary when the page has no excerpt.
	SummarySentences int
}

// NewArticleExtractor builds an extractor. detector may be nil to skip language detection.
func NewArticleExtractor(source RawSource, detector lingua.LanguageDetector, logger *slog.Logger) *ArticleExtractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ArticleExtractor{
		source:           source,
		detector:         detector,
		log:              logger,
		now:              time.Now,
		SummarySentences: 3,
	}
}

// NewLanguageDetector builds a detector restricted to the given ISO 639-1 codes.
// It returns nil when no code is recognised.
func NewLanguageDetector(codes []string) lingua.LanguageDetector {
	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}

	var languages []lingua.Language
	for _, l := range lingua.AllLanguages() {
		if _, ok := wanted[l.IsoCode639_1().String()]; ok {
			languages = append(languages, l)
		}
	}
	switch len(languages) {
	case 0:
		return nil
	case 1:
		// lingua needs at least two candidates.
		languages = append(languages, lingua.English)
	}
	return lingua.NewLanguageDetectorBuilder().FromLanguages(languages...).Build()
}

// Extract fetches rawURL and parses it into an article record.
func (e *ArticleExtractor) Extract(ctx context.Context, rawURL string) (*models.Record, error) {
	raw, err := e.source.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch article: %w", err)
	}
	return e.Parse(raw)
}

// Parse extracts title, body, summary, lead image and publish date from a fetched page.
func (e *ArticleExtractor) Parse(raw *models.RawDocument) (*models.Record, error) {
	pageURL, err := url.Parse(raw.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	article, err := readability.NewParser().Parse(strings.NewReader(raw.HTML), pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	body, err := contentText(article.Content)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, fmt.Errorf("no article body at %s", raw.URL)
	}

	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = e.now()
	}
	published := metaPublished(raw.HTML)
	if published.IsZero() && article.PublishedTime != nil {
		published = *article.PublishedTime
	}
	if published.IsZero() {
		published = fetchedAt
	}

	summary := processing.NormalizeSpace(article.Excerpt)
	if summary == "" {
		summary = leadSentences(body, e.SummarySentences)
	}

	rec := &models.Record{
		ID:          ArticleID(raw.URL),
		Kind:        models.KindArticle,
		SourceURL:   raw.URL,
		Title:       processing.NormalizeSpace(article.Title),
		Author:      processing.NormalizeSpace(article.Byline),
		Body:        body,
		Summary:     summary,
		PublishedAt: processing.FormatTimestamp(published),
		MediaURL:    article.Image,
		FetchedAt:   fetchedAt,
	}
	if rec.Title == "" {
		rec.Title = processing.GenerateTitleFromText(body, 12)
	}
	if e.detector != nil {
		if lang, ok := e.detector.DetectLanguageOf(body); ok {
			rec.Language = strings.ToLower(lang.IsoCode639_1().String())
		}
	}

	return rec, nil
}

// contentText flattens the readability HTML into paragraphs separated by blank lines.
func contentText(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse article content: %w", err)
	}

	var parts []string
	doc.Find("h1,h2,h3,h4,p,li,blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p,li").Length() > 0 {
			return
		}
		if text := processing.NormalizeSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return processing.NormalizeSpace(doc.Text()), nil
	}
	return strings.Join(parts, "\n\n"), nil
}

var publishedSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[itemprop="datePublished"]`,
}

// metaPublished reads the publish date from the page metadata, or a time element.
func metaPublished(page string) time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return time.Time{}
	}
	for _, sel := range publishedSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if ts := processing.ParseTimestamp(v); !ts.IsZero() {
				return ts
			}
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return processing.ParseTimestamp(v)
	}
	return time.Time{}
}

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]*\s+`)

// leadSentences returns the first n sentences of text as a fallback summary.
func leadSentences(text string, n int) string {
	text = processing.NormalizeSpace(text)
	if n <= 0 || text == "" {
		return ""
	}
	bounds := sentenceEnd.FindAllStringIndex(text, n)
	if len(bounds) < n {
		return text
	}
	return strings.TrimSpace(text[:bounds[n-1][1]])
}
