package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultEmbeddingDims matches the text embedding model used by the hybrid search callers.
const DefaultEmbeddingDims = 768

// EnsureIndex creates index with the document mapping when it does not exist yet.
// It reports whether the index was created.
func (c *Client) EnsureIndex(ctx context.Context, index string) (bool, error) {
	exists, err := c.IndexExists(ctx, index)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	payload, err := json.Marshal(Mapping(c.dims))
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}

	res, err := c.es.Indices.Create(
		index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// Another run may have created it between the two calls.
		if res.StatusCode == http.StatusBadRequest {
			if again, err := c.IndexExists(ctx, index); err == nil && again {
				return false, nil
			}
		}
		return false, responseError("create index "+index, res)
	}

	c.log.Info("index created", "index", index)
	return true, nil
}

// IndexExists reports whether index exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("check index "+index, res)
	}
}

// Mapping is the explicit mapping shared by the news and posts indices.
func Mapping(dims int) map[string]any {
	keyword := map[string]any{"type": "keyword"}
	text := map[string]any{"type": "text"}
	date := map[string]any{"type": "date"}
	long := map[string]any{"type": "long"}

	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":         keyword,
				"kind":       keyword,
				"source_url": keyword,
				"title":      text,
				"author": map[string]any{
					"type":   "text",
					"fields": map[string]any{"raw": keyword},
				},
				"author_handle":     keyword,
				"body_text":         text,
				"summary":           text,
				"published_at":      date,
				"media_url":         map[string]any{"type": "keyword", "index": false},
				"language":          keyword,
				"profile_image_url": map[string]any{"type": "keyword", "index": false},
				"post_date":         keyword,
				"post_time":         keyword,
				"engagement": map[string]any{
					"properties": map[string]any{
						"reply_count": long,
						"share_count": long,
						"like_count":  long,
						"view_count":  long,
					},
				},
				"mentions":             keyword,
				"hashtags":             keyword,
				"links":                keyword,
				"topic_classification": keyword,
				"urgency_level":        map[string]any{"type": "integer"},
				"sentiment":            keyword,
				"target_audience":      keyword,
				"affected_region":      keyword,
				"contextual_summary":   text,
				"contextual_keywords":  keyword,
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
				"indexed_at": date,
			},
		},
	}
}
