package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexibleID decodes identifiers the API sends either as strings or as numbers. null decodes to "".
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}

		*id = FlexibleID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}

	*id = FlexibleID(n.String())

	return nil
}

// String returns the identifier as a string.
func (id FlexibleID) String() string {
	return string(id)
}

// Timestamp decodes unix seconds or RFC 3339 strings into seconds since epoch.
type Timestamp int64

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*ts = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}

		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*ts = Timestamp(n)
			return nil
		}

		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}

		*ts = Timestamp(t.Unix())

		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
	}

	*ts = Timestamp(n)

	return nil
}

// CollectionPayload is a collection as returned by the API.
type CollectionPayload struct {
	ID       FlexibleID `json:"id"`
	Name     string     `json:"name"`
	ParentID FlexibleID `json:"parent_id"`
	URL      string     `json:"url"`
}

// SectionPayload is a section as returned by the API. ParentID is the owning collection.
type SectionPayload struct {
	ID       FlexibleID `json:"id"`
	Name     string     `json:"name"`
	ParentID FlexibleID `json:"parent_id"`
}

// ArticlePayload is an article as returned by the listing or detail endpoints.
// ParentType is "collection" or "section" (empty for unfiled articles).
type ArticlePayload struct {
	ID         FlexibleID `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	State      string     `json:"state"`
	URL        string     `json:"url"`
	ParentID   FlexibleID `json:"parent_id"`
	ParentType string     `json:"parent_type"`
	UpdatedAt  Timestamp  `json:"updated_at"`
}

// pages is the pagination block of a list response.
type pages struct {
	Next       json.RawMessage `json:"next"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int             `json:"total_pages"`
}

// listResponse is the envelope of every paginated endpoint.
type listResponse[T any] struct {
	Data  []T    `json:"data"`
	Type  string `json:"type"`
	Pages *pages `json:"pages"`
}
