// Package models defines the help-center content tree and the records produced while harvesting it.
package models

import "time"

// Collection is a top-level grouping of help content. Collections may nest.
type Collection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Section groups articles beneath a collection.
type Section struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CollectionID string `json:"collection_id"`
}

// Article is a single help document.
type Article struct {
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	BodyHTML     string    `json:"body_html"`
	CollectionID string    `json:"collection_id"`
	SectionID    string    `json:"section_id,omitempty"`
	SourceURL    string    `json:"source_url"`
	State        string    `json:"state,omitempty"`
}

// HasSection reports whether the article is attached to a section rather than directly to a collection.
func (a *Article) HasSection() bool {
	return a.SectionID != ""
}

// HasBody reports whether the listing already carried the article body.
func (a *Article) HasBody() bool {
	return a.BodyHTML != ""
}
