package models

import "time"

// Kind distinguishes the two record variants flowing through the pipeline.
type Kind string

const (
	KindArticle Kind = "article"
	KindPost    Kind = "post"
)

// RawDocument is a fetched page snapshot. It is discarded after extraction.
type RawDocument struct {
	URL       string
	HTML      string
	FetchedAt time.Time
}

// Engagement holds the social counters of a post.
type Engagement struct {
	Replies int64 `json:"reply_count"`
	Shares  int64 `json:"share_count"`
	Likes   int64 `json:"like_count"`
	Views   int64 `json:"view_count"`
}

// Record is the normalized unit produced by the extractors.
// PublishedAt keeps the serialized timestamp; Merge parses it back.
type Record struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	Handle      string    `json:"author_handle,omitempty"`
	Body        string    `json:"body_text"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt string    `json:"published_at"`
	MediaURL    string    `json:"media_url,omitempty"`
	Language    string    `json:"language,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`

	// Post-only fields.
	ProfileImageURL string      `json:"profile_image_url,omitempty"`
	PostDate        string      `json:"post_date,omitempty"`
	PostTime        string      `json:"post_time,omitempty"`
	Engagement      *Engagement `json:"engagement,omitempty"`
	Mentions        []string    `json:"mentions,omitempty"`
	Hashtags        []string    `json:"hashtags,omitempty"`
	Links           []string    `json:"links,omitempty"`
}
