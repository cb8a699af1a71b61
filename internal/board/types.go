// Package board defines core types shared across the ingestion pipeline.
package board

import "time"

// Post is one ingested bulletin-board entry. PostID is the board's own
// identifier and is stable across crawls; records are written in full or not
// at all, never partially.
type Post struct {
	PostID      string    `json:"post_id"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html,omitempty"`
	BodyText    string    `json:"body_text"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
	ImagePaths  []string  `json:"image_paths,omitempty"`
	OCRText     string    `json:"ocr_text"`
	RawHTMLPath string    `json:"raw_html_path,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// PostFields is the parser's output for a single post page.
type PostFields struct {
	PostID      string
	Title       string
	BodyHTML    string
	BodyText    string
	PublishedAt time.Time
	ImageURLs   []string
}

// ListingItem is one entry on a listing page. BodyHTML is populated when the
// board's AJAX listing endpoint already carries the post content inline.
type ListingItem struct {
	PostID   string
	Title    string
	URL      string
	BodyHTML string
}

// IndexEntry is the lightweight per-post metadata kept in the global index.
type IndexEntry struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}
