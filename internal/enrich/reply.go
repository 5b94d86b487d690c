package enrich

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/processing"
)

// ErrNoJSONArray is returned when a reply contains no parsable JSON array.
var ErrNoJSONArray = errors.New("reply contains no JSON array")

// ErrIncompleteItem marks a reply item missing a required category or holding one outside its set.
var ErrIncompleteItem = errors.New("incomplete enrichment item")

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = looseString(n.String())
	return nil
}

// looseInt accepts a JSON number or a numeric string. Other strings leave it unset.
type looseInt struct {
	value float64
	set   bool
}

func (n *looseInt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("expected number, got %s", data)
		}
		raw = json.Number(strings.TrimSpace(str))
	}
	f, err := strconv.ParseFloat(raw.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.value, n.set = f, true
	return nil
}

// looseList accepts an array of strings or a single string.
type looseList []string

func (l *looseList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("expected string list, got %s", data)
	}
	*l = looseList{one}
	return nil
}

type replyItem struct {
	ID                  looseString `json:"id"`
	TopicClassification looseString `json:"topic_classification"`
	UrgencyLevel        looseInt    `json:"urgency_level"`
	Sentiment           looseString `json:"sentiment"`
	TargetAudience      looseList   `json:"target_audience"`
	AffectedRegion      looseString `json:"affected_region"`
	ContextualSummary   looseString `json:"contextual_summary"`
	ContextualContent   looseString `json:"contextual_content"`
	ContextualKeywords  looseList   `json:"contextual_keywords"`
}

// ParseReply decodes a model reply into enrichments for the records in chunkIDs.
// The reply is first decoded as a strict JSON array; failing that, the first balanced
// array embedded in the text is used. Items for unknown ids, duplicates and items whose
// categories are missing or invalid are dropped; each such problem is reported in issues.
// Unknown audience entries are removed as long as one valid audience remains.
func ParseReply(reply string, chunkIDs []string) (results []models.Enrichment, issues []error, err error) {
	items, err := decodeItems(reply)
	if err != nil {
		return nil, nil, err
	}

	allowed := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		allowed[id] = struct{}{}
	}
	taken := make(map[string]struct{}, len(items))

	for i, item := range items {
		id := strings.TrimSpace(string(item.ID))
		if _, ok := allowed[id]; !ok {
			issues = append(issues, fmt.Errorf("item %d: id %q not in chunk", i, id))
			continue
		}
		if _, dup := taken[id]; dup {
			issues = append(issues, fmt.Errorf("item %d: duplicate id %q", i, id))
			continue
		}

		e, itemIssues, err := normalizeItem(id, item)
		for _, issue := range itemIssues {
			issues = append(issues, fmt.Errorf("item %d (%s): %w", i, id, issue))
		}
		if err != nil {
			issues = append(issues, fmt.Errorf("item %d (%s): %w", i, id, err))
			continue
		}
		taken[id] = struct{}{}
		results = append(results, e)
	}
	return results, issues, nil
}

// normalizeItem canonicalises one item. A non-nil error rejects the item; issues are
// recoverable problems with an accepted item.
func normalizeItem(id string, item replyItem) (models.Enrichment, []error, error) {
	var issues, invalid []error
	e := models.Enrichment{ID: id}

	pick := func(field string, set enumSet, raw looseString) string {
		v := strings.TrimSpace(string(raw))
		if v == "" {
			invalid = append(invalid, fmt.Errorf("%s: missing", field))
			return ""
		}
		c, ok := set.canonical(v)
		if !ok {
			invalid = append(invalid, fmt.Errorf("%s: unknown value %q", field, v))
		}
		return c
	}
	e.TopicClassification = pick("topic_classification", topicSet, item.TopicClassification)
	e.Sentiment = pick("sentiment", sentimentSet, item.Sentiment)
	e.AffectedRegion = pick("affected_region", regionSet, item.AffectedRegion)

	seen := make(map[string]struct{})
	for _, a := range item.TargetAudience {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		c, ok := audienceSet.canonical(a)
		if !ok {
			issues = append(issues, fmt.Errorf("target_audience: unknown value %q", a))
			continue
		}
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			e.TargetAudience = append(e.TargetAudience, c)
		}
	}

	if len(e.TargetAudience) == 0 {
		invalid = append(invalid, errors.New("target_audience: no valid value"))
	}

	if item.UrgencyLevel.set {
		e.UrgencyLevel = int(math.Round(math.Max(0, math.Min(100, item.UrgencyLevel.value))))
	} else {
		invalid = append(invalid, errors.New("urgency_level: missing"))
	}

	if len(invalid) > 0 {
		return models.Enrichment{}, issues, fmt.Errorf("%w: %w", ErrIncompleteItem, errors.Join(invalid...))
	}

	summary := item.ContextualSummary
	if summary == "" {
		summary = item.ContextualContent
	}
	e.ContextualSummary = processing.NormalizeSpace(processing.StripQuotes(string(summary)))

	for _, k := range item.ContextualKeywords {
		if k = processing.NormalizeSpace(k); k != "" {
			e.ContextualKeywords = append(e.ContextualKeywords, k)
		}
		if len(e.ContextualKeywords) == MaxKeywords {
			break
		}
	}

	return e, issues, nil
}

func decodeItems(reply string) ([]replyItem, error) {
	text := stripFence(strings.TrimSpace(reply))

	var items []replyItem
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items, nil
	}

	for start := strings.IndexByte(text, '['); start >= 0; {
		end := matchBracket(text, start)
		if end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &items); err == nil {
				return items, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSONArray
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// matchBracket returns the index of the ']' closing the '[' at start, or -1.
func matchBracket(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if c == ']' {
					return i
				}
				return -1
			}
		}
	}
	return -1
}
