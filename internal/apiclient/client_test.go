package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcharvest/internal/config"
	"hcharvest/internal/logger"
)

func testClient(t *testing.T, baseURL string, perPage int) *Client {
	t.Helper()

	c, err := NewClient(
		config.APIConfig{
			BaseURL:           baseURL,
			Token:             "test-token",
			PerPage:           perPage,
			RequestsPerSecond: 1000,
			Burst:             100,
		},
		config.RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    1,
			MaxDelayMs:        5,
			BackoffMultiplier: 2,
			TimeoutSec:        5,
		},
		logger.Discard(),
	)
	require.NoError(t, err)

	return c
}

// hitCounter records how many times each page was served.
type hitCounter struct {
	hits map[string]int
	mu   sync.Mutex
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: make(map[string]int)}
}

func (h *hitCounter) add(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hits[key]++

	return h.hits[key]
}

func (h *hitCounter) get(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.hits[key]
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func articlePage(ids []string, page, totalPages int) map[string]any {
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{"id": id, "title": "Article " + id, "parent_id": 7, "parent_type": "collection"})
	}

	return map[string]any{
		"type":  "list",
		"data":  data,
		"pages": map[string]any{"type": "pages", "page": page, "per_page": 2, "total_pages": totalPages},
	}
}

func collectIDs(t *testing.T, seq func(func(ArticlePayload, error) bool)) ([]string, error) {
	t.Helper()

	var ids []string

	for a, err := range seq {
		if err != nil {
			return ids, err
		}

		ids = append(ids, a.ID.String())
	}

	return ids, nil
}

func TestArticles_TraversesEveryPageOnce(t *testing.T) {
	pagesByNumber := map[int][]string{1: {"1", "2"}, 2: {"3", "4"}, 3: {"5"}}
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/articles", r.URL.Path)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		counter.add(strconv.Itoa(page))
		writeJSON(t, w, articlePage(pagesByNumber[page], page, 3))
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)

	for page := 1; page <= 3; page++ {
		assert.Equal(t, 1, counter.get(strconv.Itoa(page)), "page %d", page)
	}

	assert.Zero(t, counter.get("4"))
}

func TestArticles_PageSizeDoesNotChangeUnion(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e", "f", "g"}

	for _, perPage := range []int{1, 2, 3, 7, 50} {
		t.Run(fmt.Sprintf("per_page=%d", perPage), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				page, _ := strconv.Atoi(r.URL.Query().Get("page"))
				size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

				start := (page - 1) * size
				end := min(start+size, len(all))

				var ids []string
				if start < len(all) {
					ids = all[start:end]
				}

				total := (len(all) + size - 1) / size
				writeJSON(t, w, articlePage(ids, page, total))
			}))
			defer srv.Close()

			ids, err := collectIDs(t, testClient(t, srv.URL, perPage).Articles(context.Background()))
			require.NoError(t, err)
			assert.Equal(t, all, ids)
		})
	}
}

func TestArticles_CursorPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("starting_after") {
		case "":
			writeJSON(t, w, map[string]any{
				"data":  []map[string]any{{"id": "1"}, {"id": "2"}},
				"pages": map[string]any{"next": map[string]any{"page": 2, "starting_after": "cur-2"}},
			})
		case "cur-2":
			writeJSON(t, w, map[string]any{
				"data":  []map[string]any{{"id": "3"}},
				"pages": map[string]any{"next": nil},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("starting_after"))
		}
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestArticles_ShortPageEndsListingWithoutPagesBlock(t *testing.T) {
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		counter.add(page)

		if page == "1" {
			writeJSON(t, w, map[string]any{"data": []map[string]any{{"id": "1"}, {"id": "2"}}})
			return
		}

		writeJSON(t, w, map[string]any{"data": []map[string]any{{"id": "3"}}})
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Zero(t, counter.get("3"))
}

func TestArticles_RepeatedNextStopsTraversal(t *testing.T) {
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.add(r.URL.Query().Get("page"))
		// A broken server that always points back at page 1.
		writeJSON(t, w, map[string]any{
			"data":  []map[string]any{{"id": "1"}, {"id": "2"}},
			"pages": map[string]any{"next": 1},
		})
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Equal(t, 1, counter.get("1"))
}

func TestArticles_DuplicatesAcrossPagesAreDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			writeJSON(t, w, articlePage([]string{"1", "2"}, 1, 2))
			return
		}

		// Offset shifted between requests: "2" shows up again.
		writeJSON(t, w, articlePage([]string{"2", "3"}, 2, 2))
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestArticles_RateLimitedPageIsRetried(t *testing.T) {
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		n := counter.add(strconv.Itoa(page))

		if page == 2 && n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"type":"error.list","errors":[{"code":"rate_limit_exceeded"}]}`))

			return
		}

		ids := map[int][]string{1: {"1", "2"}, 2: {"3", "4"}, 3: {"5"}}[page]
		writeJSON(t, w, articlePage(ids, page, 3))
	}))
	defer srv.Close()

	ids, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.Equal(t, 2, counter.get("2"))
	assert.Equal(t, 1, counter.get("3"))
}

func TestArticles_NonTransientStatusIsNotRetried(t *testing.T) {
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		counter.add("any")
		http.Error(w, `{"errors":[{"code":"unauthorized"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.IsAuthFailure())
	assert.ErrorIs(t, err, ErrUnexpectedStatusCode)
	assert.Equal(t, 1, counter.get("any"))
}

func TestArticles_TransientFailureExhaustsAttempts(t *testing.T) {
	counter := newHitCounter()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		counter.add("any")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))

	var transient *TransientFetchError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 3, counter.get("any"))
}

func TestArticles_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := collectIDs(t, testClient(t, srv.URL, 2).Articles(context.Background()))

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestSections_FiltersByCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/help_center/sections", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("parent_id"))

		writeJSON(t, w, map[string]any{
			"data": []map[string]any{
				{"id": 1, "name": "Mine", "parent_id": 10},
				{"id": 2, "name": "Other", "parent_id": 11},
			},
			"pages": map[string]any{"page": 1, "total_pages": 1},
		})
	}))
	defer srv.Close()

	var names []string

	for s, err := range testClient(t, srv.URL, 50).Sections(context.Background(), "10") {
		require.NoError(t, err)

		names = append(names, s.Name)
	}

	assert.Equal(t, []string{"Mine"}, names)
}

func TestArticle_Detail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/articles/99", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"id":          "99",
			"title":       "Detail",
			"body":        "<p>Hello</p>",
			"parent_id":   nil,
			"parent_type": nil,
			"updated_at":  1700000000,
		})
	}))
	defer srv.Close()

	a, err := testClient(t, srv.URL, 50).Article(context.Background(), "99")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", a.Body)
	assert.Equal(t, "", a.ParentID.String())
	assert.Equal(t, Timestamp(1700000000), a.UpdatedAt)
}

func TestDownload_DoesNotSendToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	d, err := testClient(t, srv.URL, 50).Download(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.ContentType)
	assert.Equal(t, []byte("png-bytes"), d.Data)
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := testClient(t, srv.URL, 50).Download(context.Background(), srv.URL+"/missing.png")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestDownload_InvalidURLIsNotRetried(t *testing.T) {
	c := testClient(t, "https://help.test", 10)

	for _, rawURL := range []string{"http://[::1]:port/a.png", "ftp://files.test/a.png", "/relative/a.png"} {
		t.Run(rawURL, func(t *testing.T) {
			_, err := c.Download(context.Background(), rawURL)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			var transient *TransientFetchError
			assert.False(t, errors.As(err, &transient))
		})
	}
}

func TestFetch_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t, srv.URL, 50).Article(ctx, "1")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		header http.Header
		name   string
		want   time.Duration
	}{
		{name: "seconds", header: http.Header{"Retry-After": {"3"}}, want: 3 * time.Second},
		{name: "http date", header: http.Header{"Retry-After": {now.Add(10 * time.Second).Format(http.TimeFormat)}}, want: 10 * time.Second},
		{name: "reset epoch", header: http.Header{"X-Ratelimit-Reset": {strconv.FormatInt(now.Add(4*time.Second).Unix(), 10)}}, want: 4 * time.Second},
		{name: "past reset", header: http.Header{"X-Ratelimit-Reset": {strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)}}, want: 0},
		{name: "capped", header: http.Header{"Retry-After": {"86400"}}, want: maxServerWait},
		{name: "absent", header: http.Header{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfter(tt.header, now))
		})
	}
}

func TestFlexibleID_Unmarshal(t *testing.T) {
	var v struct {
		A FlexibleID `json:"a"`
		B FlexibleID `json:"b"`
		C FlexibleID `json:"c"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"abc","b":123,"c":null}`), &v))
	assert.Equal(t, FlexibleID("abc"), v.A)
	assert.Equal(t, FlexibleID("123"), v.B)
	assert.Equal(t, FlexibleID(""), v.C)
}
