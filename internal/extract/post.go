package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/processing"
)

const (
	// PostBaseURL prefixes relative status permalinks.
	PostBaseURL = "https://x.com"
	// DefaultProfileImage is used when a post carries no avatar.
	DefaultProfileImage = "https://abs.twimg.com/sticky/default_profile_images/default_profile_normal.png"

	postSelector    = `article[data-testid="tweet"]`
	textSelector    = `div[data-testid="tweetText"]`
	accountSelector = `div[data-testid="User-Name"]`
	counterSelector = `span[data-testid="app-text-transition-container"]`
)

// ErrNoPermalink is returned for post elements without a status link.
var ErrNoPermalink = errors.New("post has no status permalink")

// ParsePosts extracts every post element rendered in a timeline snapshot.
// Posts that fail to parse are skipped and reported in errs.
func ParsePosts(rendered string, fetchedAt time.Time) (records []models.Record, errs []error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, []error{fmt.Errorf("parse snapshot: %w", err)}
	}

	doc.Find(postSelector).Each(func(i int, s *goquery.Selection) {
		rec, err := ParsePost(s, fetchedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("post %d: %w", i, err))
			return
		}
		records = append(records, *rec)
	})
	return records, errs
}

// ParsePost extracts one post element.
func ParsePost(s *goquery.Selection, fetchedAt time.Time) (*models.Record, error) {
	permalink, id, err := postPermalink(s)
	if err != nil {
		return nil, err
	}

	text := postText(s.Find(textSelector).First())
	name, handle := postAccount(s.Find(accountSelector).First())

	published := fetchedAt
	if dt, ok := s.Find("time").First().Attr("datetime"); ok {
		if ts := processing.ParseTimestamp(dt); !ts.IsZero() {
			published = ts
		}
	}
	date, clock := splitDateTime(published)

	engagement, err := postEngagement(s)
	if err != nil {
		return nil, err
	}

	rec := &models.Record{
		ID:              id,
		Kind:            models.KindPost,
		SourceURL:       permalink,
		Title:           processing.GenerateTitleFromText(text, 12),
		Author:          name,
		Handle:          handle,
		Body:            text,
		PublishedAt:     processing.FormatTimestamp(published),
		FetchedAt:       fetchedAt,
		ProfileImageURL: profileImage(s),
		PostDate:        date,
		PostTime:        clock,
		Engagement:      engagement,
		Mentions:        processing.ExtractMentions(text),
		Hashtags:        processing.ExtractHashtags(text),
		Links:           processing.ExtractURLs(text),
	}
	if src, ok := s.Find(`div[data-testid="tweetPhoto"] img`).First().Attr("src"); ok {
		rec.MediaURL = src
	}
	return rec, nil
}

// postText joins the text runs and emoji alt texts of a post body in document order.
func postText(body *goquery.Selection) string {
	var parts []string
	body.Find("span, img").Each(func(_ int, el *goquery.Selection) {
		switch goquery.NodeName(el) {
		case "span":
			if el.Find("span").Length() > 0 {
				return
			}
			if t := strings.TrimSpace(el.Text()); t != "" {
				parts = append(parts, t)
			}
		case "img":
			if alt, ok := el.Attr("alt"); ok && alt != "" {
				parts = append(parts, alt)
			}
		}
	})
	return processing.NormalizeSpace(strings.Join(parts, " "))
}

// postAccount returns the display name and @handle of the author block.
func postAccount(block *goquery.Selection) (name, handle string) {
	var parts []string
	block.Find("span").Each(func(_ int, el *goquery.Selection) {
		if el.Find("span").Length() > 0 {
			return
		}
		t := strings.TrimSpace(el.Text())
		if t == "" || t == "·" {
			return
		}
		parts = append(parts, t)
	})
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], parts[len(parts)-1]
}

func postPermalink(s *goquery.Selection) (permalink, id string, err error) {
	var href string
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if strings.HasPrefix(h, "/") && strings.Contains(h, "/status/") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return "", "", ErrNoPermalink
	}

	segments := strings.Split(strings.Trim(href, "/"), "/")
	for i, seg := range segments {
		if seg == "status" && i+1 < len(segments) && isDigits(segments[i+1]) && segments[i+1] != "" {
			id = segments[i+1]
			permalink = PostBaseURL + "/" + strings.Join(segments[:i+2], "/")
			return permalink, id, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrNoPermalink, href)
}

// postEngagement parses reply, share, like and view counters in that order.
// Counters that are absent or rendered empty count as zero.
func postEngagement(s *goquery.Selection) (*models.Engagement, error) {
	var values [4]int64
	var parseErr error
	s.Find(counterSelector).EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= len(values) {
			return false
		}
		raw := strings.TrimSpace(el.Text())
		if raw == "" {
			return true
		}
		n, err := ParseAbbreviated(raw)
		if err != nil {
			parseErr = fmt.Errorf("counter %d: %w", i, err)
			return false
		}
		values[i] = n
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return &models.Engagement{
		Replies: values[0],
		Shares:  values[1],
		Likes:   values[2],
		Views:   values[3],
	}, nil
}

func profileImage(s *goquery.Selection) string {
	var src string
	s.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		v, _ := img.Attr("src")
		if strings.HasPrefix(v, "https://pbs.twimg.com/profile_images/") {
			src = v
			return false
		}
		return true
	})
	if src == "" {
		return DefaultProfileImage
	}
	return src
}

func splitDateTime(ts time.Time) (date, clock string) {
	ts = ts.UTC()
	return ts.Format(time.DateOnly), ts.Format(time.TimeOnly)
}
