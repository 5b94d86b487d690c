package models

import "time"

// Document is the canonical structure stored in Elasticsearch: a record joined with its enrichment.
type Document struct {
	ID              string      `json:"id"`
	Kind            Kind        `json:"kind"`
	SourceURL       string      `json:"source_url"`
	Title           string      `json:"title,omitempty"`
	Author          string      `json:"author,omitempty"`
	Handle          string      `json:"author_handle,omitempty"`
	Body            string      `json:"body_text"`
	Summary         string      `json:"summary,omitempty"`
	PublishedAt     time.Time   `json:"published_at"`
	MediaURL        string      `json:"media_url,omitempty"`
	Language        string      `json:"language,omitempty"`
	ProfileImageURL string      `json:"profile_image_url,omitempty"`
	PostDate        string      `json:"post_date,omitempty"`
	PostTime        string      `json:"post_time,omitempty"`
	Engagement      *Engagement `json:"engagement,omitempty"`
	Mentions        []string    `json:"mentions,omitempty"`
	Hashtags        []string    `json:"hashtags,omitempty"`
	Links           []string    `json:"links,omitempty"`

	TopicClassification string   `json:"topic_classification"`
	UrgencyLevel        int      `json:"urgency_level"`
	Sentiment           string   `json:"sentiment"`
	TargetAudience      []string `json:"target_audience"`
	AffectedRegion      string   `json:"affected_region"`
	ContextualSummary   string   `json:"contextual_summary"`
	ContextualKeywords  []string `json:"contextual_keywords"`

	Embedding []float32 `json:"embedding,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}
