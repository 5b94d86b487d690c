package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DeafMist/city-pulse/internal/models"
)

// ItemFailure is a document the bulk call rejected.
type ItemFailure struct {
	ID     string
	Status int
	Type   string
	Reason string
}

// BulkReport separates per-document outcomes of a bulk call.
type BulkReport struct {
	Requested int
	Indexed   int
	Failed    []ItemFailure
}

// BulkUpsert writes docs into index with _id = doc.ID, so re-ingesting a document replaces it.
// Documents sharing an id are collapsed first, the last one winning. A returned error means the
// call as a whole failed; rejected documents are listed in the report instead.
func (c *Client) BulkUpsert(ctx context.Context, index string, docs []models.Document) (*BulkReport, error) {
	docs = DedupeByID(docs)
	report := &BulkReport{Requested: len(docs)}
	if len(docs) == 0 {
		return report, nil
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		if doc.IndexedAt.IsZero() {
			doc.IndexedAt = now
		}
		meta := map[string]any{
			"index": map[string]any{"_index": index, "_id": doc.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(index),
		c.es.Bulk.WithRefresh(c.refresh),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("bulk index", res)
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				report.Indexed++
				continue
			}
			failure := ItemFailure{ID: result.ID, Status: result.Status}
			if result.Error != nil {
				failure.Type = result.Error.Type
				failure.Reason = result.Error.Reason
			}
			report.Failed = append(report.Failed, failure)
		}
	}

	if len(report.Failed) > 0 {
		c.log.Warn("bulk index partially failed",
			"index", index,
			"indexed", report.Indexed,
			"failed", len(report.Failed),
			"first_reason", report.Failed[0].Reason,
		)
	}
	return report, nil
}

// DedupeByID keeps one document per id, the last occurrence winning, in first-seen order.
func DedupeByID(docs []models.Document) []models.Document {
	pos := make(map[string]int, len(docs))
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
