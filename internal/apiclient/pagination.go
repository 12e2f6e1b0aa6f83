package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"strconv"
)

// Collections lists every collection, following pagination lazily.
func (c *Client) Collections(ctx context.Context) iter.Seq2[CollectionPayload, error] {
	return paginate(ctx, c, "help_center/collections", nil, func(p CollectionPayload) string {
		return p.ID.String()
	})
}

// Sections lists the sections of one collection. Sections whose parent is another
// collection are skipped, in case the server ignores the parent filter.
func (c *Client) Sections(ctx context.Context, collectionID string) iter.Seq2[SectionPayload, error] {
	query := url.Values{"parent_id": []string{collectionID}}
	all := paginate(ctx, c, "help_center/sections", query, func(p SectionPayload) string {
		return p.ID.String()
	})

	return func(yield func(SectionPayload, error) bool) {
		for s, err := range all {
			if err != nil {
				yield(s, err)
				return
			}

			if s.ParentID.String() != "" && s.ParentID.String() != collectionID {
				continue
			}

			if !yield(s, nil) {
				return
			}
		}
	}
}

// Articles lists every article. The listing is flat: articles reference their
// collection or section through parent_id/parent_type.
func (c *Client) Articles(ctx context.Context) iter.Seq2[ArticlePayload, error] {
	return paginate(ctx, c, "articles", nil, func(p ArticlePayload) string {
		return p.ID.String()
	})
}

// cursor identifies the next page to request: a page number or an opaque
// starting_after token.
type cursor struct {
	startingAfter string
	page          int
}

func (cur cursor) apply(q url.Values) {
	if cur.startingAfter != "" {
		q.Set("starting_after", cur.startingAfter)
		return
	}

	q.Set("page", strconv.Itoa(cur.page))
}

// paginate walks a list endpoint page by page, strictly in order. It stops when
// the server signals the end, when a page comes back empty or when the server
// points back at a page that was already requested. Items are de-duplicated by id.
func paginate[T any](ctx context.Context, c *Client, path string, base url.Values, idOf func(T) string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		cur := cursor{page: 1}
		requested := make(map[string]bool)
		seen := make(map[string]bool)

		for {
			q := url.Values{}
			for k, v := range base {
				q[k] = append([]string(nil), v...)
			}

			q.Set("per_page", strconv.Itoa(c.perPage))
			cur.apply(q)

			rawURL := c.endpoint(path, q)
			if requested[rawURL] {
				return
			}

			requested[rawURL] = true

			var resp listResponse[T]
			if err := c.getJSON(ctx, rawURL, &resp); err != nil {
				yield(zero, err)
				return
			}

			c.logger.Debug("Fetched page", "path", path, "page", cur.page, "items", len(resp.Data))

			for _, item := range resp.Data {
				id := idOf(item)
				if id != "" {
					if seen[id] {
						continue
					}

					seen[id] = true
				}

				if !yield(item, nil) {
					return
				}
			}

			next, ok := nextCursor(cur, resp.Pages, len(resp.Data), c.perPage)
			if !ok {
				return
			}

			cur = next
		}
	}
}

// nextCursor decides whether another page exists and how to request it.
func nextCursor(cur cursor, p *pages, count, perPage int) (cursor, bool) {
	if count == 0 {
		return cursor{}, false
	}

	following := cursor{page: cur.page + 1}

	if p == nil {
		// No pagination block: a full page suggests there may be more.
		return following, count >= perPage
	}

	if next, ok := parseNext(p.Next, following); ok {
		return next, true
	}

	if hasValue(p.Next) {
		// A next value was present but unusable; fall back to page arithmetic.
		return following, p.TotalPages == 0 || following.page <= p.TotalPages
	}

	if p.TotalPages > 0 {
		current := p.Page
		if current == 0 {
			current = cur.page
		}

		return cursor{page: current + 1}, current < p.TotalPages
	}

	return following, count >= perPage
}

// parseNext understands the three shapes the next field takes: an object carrying
// starting_after and/or page, a URL with page or starting_after in its query, or a
// bare page number.
func parseNext(raw json.RawMessage, following cursor) (cursor, bool) {
	if !hasValue(raw) {
		return cursor{}, false
	}

	var obj struct {
		StartingAfter string `json:"starting_after"`
		Page          int    `json:"page"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.StartingAfter != "" || obj.Page > 0) {
		next := cursor{startingAfter: obj.StartingAfter, page: following.page}
		if obj.Page > 0 {
			next.page = obj.Page
		}

		return next, true
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return cursor{page: n}, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		u, err := url.Parse(s)
		if err != nil {
			return cursor{}, false
		}

		q := u.Query()
		if after := q.Get("starting_after"); after != "" {
			return cursor{startingAfter: after, page: following.page}, true
		}

		if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
			return cursor{page: page}, true
		}
	}

	return cursor{}, false
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
