// Package sources fans out over the configured sources and merges their
// results into the Story slice the summarization pipeline consumes.
package sources

import (
	"net/url"
	"time"
)

// Story is one candidate article surfaced for summarization.
type Story struct {
	// ID is unique within a run: the feed guid/link for RSS, the URL
	// itself for url sources, "messageID:index" for newsletter links.
	ID    string `json:"id"`
	Title string `json:"title"`

	// URL is always an absolute http(s) URL; candidates that fail that
	// check are discarded before a Story is built.
	URL string `json:"url"`

	SourceName string `json:"sourceName"`
	SourceURL  string `json:"sourceUrl,omitempty"`

	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	// SourceItemID/SourceItemTitle group the Stories that came out of a
	// single newsletter message.
	SourceItemID    string `json:"sourceItemId,omitempty"`
	SourceItemTitle string `json:"sourceItemTitle,omitempty"`
}

// validStoryURL enforces the Story.URL invariant.
func validStoryURL(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
