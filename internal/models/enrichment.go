package models

// Enrichment is the model-generated classification for one record, keyed by the record id.
type Enrichment struct {
	ID                  string   `json:"id"`
	TopicClassification string   `json:"topic_classification"`
	UrgencyLevel        int      `json:"urgency_level"`
	Sentiment           string   `json:"sentiment"`
	TargetAudience      []string `json:"target_audience"`
	AffectedRegion      string   `json:"affected_region"`
	ContextualSummary   string   `json:"contextual_summary"`
	ContextualKeywords  []string `json:"contextual_keywords"`
}
