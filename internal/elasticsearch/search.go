package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DeafMist/city-pulse/internal/models"
)

// SearchParams narrow the listing query.
type SearchParams struct {
	Query      string
	Sentiment  string
	Topic      string
	Region     string
	Audience   string
	Hashtags   []string
	MinUrgency int
	From       int
	Size       int
	Sort       string
	Start      *time.Time
	End        *time.Time
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64             `json:"total"`
	Items []models.Document `json:"items"`
}

// Search executes a bool query with optional enrichment filters against index.
func (c *Client) Search(ctx context.Context, index string, params SearchParams) (*SearchResult, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": buildBool(params)},
		"sort":             buildSort(params.Sort),
	}

	parsed, err := c.search(ctx, index, body)
	if err != nil {
		return nil, err
	}

	items := make([]models.Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

func buildBool(params SearchParams) map[string]any {
	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 6)

	if params.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"title^2", "summary", "contextual_summary", "body_text"},
			},
		})
	}

	term := func(field, value string) {
		if value != "" {
			filters = append(filters, map[string]any{"term": map[string]any{field: value}})
		}
	}
	term("sentiment", params.Sentiment)
	term("topic_classification", params.Topic)
	term("affected_region", params.Region)
	term("target_audience", params.Audience)

	if len(params.Hashtags) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{"hashtags": params.Hashtags},
		})
	}

	if params.MinUrgency > 0 {
		filters = append(filters, map[string]any{
			"range": map[string]any{"urgency_level": map[string]any{"gte": params.MinUrgency}},
		})
	}

	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"published_at": rangeQuery},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}
	return boolQuery
}

func buildSort(raw string) []map[string]any {
	if raw == "" {
		raw = "published_at:desc"
	}
	parts := strings.Split(raw, ":")
	field := parts[0]
	if field == "" {
		field = "published_at"
	}
	order := "desc"
	if len(parts) > 1 && parts[1] != "" {
		order = parts[1]
	}
	return []map[string]any{
		{field: map[string]any{"order": order}},
	}
}

// HybridParams configures a combined kNN and keyword query.
type HybridParams struct {
	Query         string
	Vector        []float32
	VectorField   string
	TextFields    []string
	K             int
	NumCandidates int
	Size          int
	Source        []string
}

// Hit is a scored search hit.
type Hit struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Document models.Document `json:"document"`
}

// HybridSearch blends an approximate kNN query over the embedding field with a best_fields
// keyword query, each boosted by one half.
func (c *Client) HybridSearch(ctx context.Context, index string, params HybridParams) ([]Hit, error) {
	if params.Query == "" && len(params.Vector) == 0 {
		return nil, fmt.Errorf("hybrid search needs a query or a vector")
	}
	if params.VectorField == "" {
		params.VectorField = "embedding"
	}
	if len(params.TextFields) == 0 {
		params.TextFields = []string{"title", "body_text", "contextual_summary"}
	}
	if params.K <= 0 {
		params.K = 5
	}
	if params.NumCandidates < params.K {
		params.NumCandidates = max(100, params.K)
	}
	if params.Size <= 0 {
		params.Size = 10
	}

	body := map[string]any{"size": params.Size}
	if len(params.Vector) > 0 {
		body["knn"] = map[string]any{
			"field":          params.VectorField,
			"query_vector":   params.Vector,
			"k":              params.K,
			"num_candidates": params.NumCandidates,
			"boost":          0.5,
		}
	}
	if params.Query != "" {
		body["query"] = map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  params.Query,
						"fields": params.TextFields,
						"type":   "best_fields",
						"boost":  0.5,
					},
				},
			},
		}
	}
	if len(params.Source) > 0 {
		body["_source"] = params.Source
	}

	parsed, err := c.search(ctx, index, body)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Document: h.Source})
	}
	return hits, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  float64         `json:"_score"`
			Source models.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) search(ctx context.Context, index string, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}
