package merge

import (
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/DeafMist/city-pulse/internal/processing"
)

// Merge inner-joins records with their enrichments on id. Records without an
// enrichment and enrichments without a record are dropped. The serialized
// publish timestamp is parsed back here, defaulting to the fetch time when it is unreadable.
func Merge(records []models.Record, enrichments []models.Enrichment) []models.Document {
	byID := make(map[string]models.Enrichment, len(enrichments))
	for _, e := range enrichments {
		byID[e.ID] = e
	}

	docs := make([]models.Document, 0, len(byID))
	for _, r := range records {
		e, ok := byID[r.ID]
		if !ok {
			continue
		}
		docs = append(docs, Join(r, e))
	}
	return docs
}

// Join combines one record with its enrichment.
func Join(r models.Record, e models.Enrichment) models.Document {
	published := processing.ParseTimestamp(r.PublishedAt)
	if published.IsZero() {
		published = r.FetchedAt
	}

	return models.Document{
		ID:              r.ID,
		Kind:            r.Kind,
		SourceURL:       r.SourceURL,
		Title:           r.Title,
		Author:          r.Author,
		Handle:          r.Handle,
		Body:            r.Body,
		Summary:         r.Summary,
		PublishedAt:     published.UTC(),
		MediaURL:        r.MediaURL,
		Language:        r.Language,
		ProfileImageURL: r.ProfileImageURL,
		PostDate:        r.PostDate,
		PostTime:        r.PostTime,
		Engagement:      r.Engagement,
		Mentions:        r.Mentions,
		Hashtags:        r.Hashtags,
		Links:           r.Links,

		TopicClassification: e.TopicClassification,
		UrgencyLevel:        e.UrgencyLevel,
		Sentiment:           e.Sentiment,
		TargetAudience:      e.TargetAudience,
		AffectedRegion:      e.AffectedRegion,
		ContextualSummary:   e.ContextualSummary,
		ContextualKeywords:  e.ContextualKeywords,
	}
}
