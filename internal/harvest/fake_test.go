package harvest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/config"
	"hcharvest/internal/logger"
)

const testToken = "test-token"

// baseMarker in fake bodies is replaced by the server URL when served.
const baseMarker = "{{base}}"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake-image")

type item = map[string]any

// fakeHelpCenter serves a small help-center API and image host.
type fakeHelpCenter struct {
	srv *httptest.Server

	collections []item
	sections    map[string][]item
	articles    []item
	details     map[string]item
	images      map[string][]byte

	// throttleArticlesPage answers 429 once for that listing page.
	throttleArticlesPage int
	detailStatus         map[string]int
	rejectToken          bool

	mu            sync.Mutex
	hits          map[string]int
	throttled     bool
	tokenOnImages bool
}

func newFakeHelpCenter(t *testing.T) *fakeHelpCenter {
	t.Helper()

	f := &fakeHelpCenter{
		sections:     make(map[string][]item),
		details:      make(map[string]item),
		images:       make(map[string][]byte),
		detailStatus: make(map[string]int),
		hits:         make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/help_center/collections", f.api(func(w http.ResponseWriter, r *http.Request) {
		f.writePage(w, r, f.collections)
	}))
	mux.HandleFunc("/help_center/sections", f.api(func(w http.ResponseWriter, r *http.Request) {
		f.writePage(w, r, f.sections[r.URL.Query().Get("parent_id")])
	}))
	mux.HandleFunc("/articles", f.api(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")

		f.mu.Lock()
		throttle := f.throttleArticlesPage > 0 && page == strconv.Itoa(f.throttleArticlesPage) && !f.throttled
		if throttle {
			f.throttled = true
		}
		f.mu.Unlock()

		if throttle {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)

			return
		}

		f.writePage(w, r, f.articles)
	}))
	mux.HandleFunc("/articles/", f.api(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/articles/")

		if status := f.detailStatus[id]; status != 0 {
			http.Error(w, "nope", status)
			return
		}

		detail, ok := f.details[id]
		if !ok {
			http.NotFound(w, r)
			return
		}

		f.writeJSON(w, detail)
	}))
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		f.hit(r.URL.Path)

		if r.Header.Get("Authorization") != "" {
			f.mu.Lock()
			f.tokenOnImages = true
			f.mu.Unlock()
		}

		data, ok := f.images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeHelpCenter) api(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.hit(r.URL.Path + "?" + r.URL.RawQuery)

		if f.rejectToken || r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, `{"type":"error.list","errors":[{"code":"unauthorized"}]}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (f *fakeHelpCenter) hit(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hits[key]++
}

func (f *fakeHelpCenter) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hits[key]
}

// writePage serves items with page/per_page/total_pages pagination.
func (f *fakeHelpCenter) writePage(w http.ResponseWriter, r *http.Request, items []item) {
	q := r.URL.Query()

	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage < 1 {
		perPage = 50
	}

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	total := max((len(items)+perPage-1)/perPage, 1)

	start := min((page-1)*perPage, len(items))
	end := min(start+perPage, len(items))

	f.writeJSON(w, item{
		"type": "list",
		"data": items[start:end],
		"pages": item{
			"type":        "pages",
			"page":        page,
			"per_page":    perPage,
			"total_pages": total,
		},
	})
}

func (f *fakeHelpCenter) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(strings.ReplaceAll(string(data), baseMarker, f.srv.URL)))
}

func (f *fakeHelpCenter) addArticle(id, title, parentType, parentID, body string) {
	a := item{
		"id":          id,
		"type":        "article",
		"title":       title,
		"body":        body,
		"state":       "published",
		"url":         baseMarker + "/help/articles/" + id,
		"parent_id":   parentID,
		"parent_type": parentType,
		"updated_at":  1700000000,
	}

	if parentID == "" {
		a["parent_id"] = nil
		a["parent_type"] = nil
	}

	f.articles = append(f.articles, a)
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.API.Token = testToken
	cfg.API.PerPage = 2
	cfg.API.RequestsPerSecond = 1000
	cfg.API.Burst = 100
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelayMs = 1
	cfg.Retry.MaxDelayMs = 5
	cfg.Retry.TimeoutSec = 5
	cfg.Output.BasePath = t.TempDir()
	cfg.Harvest.Concurrency = 3
	cfg.Harvest.VerifyOutput = true

	return cfg
}

func newTestHarvester(t *testing.T, cfg *config.Config) *Harvester {
	t.Helper()

	client, err := apiclient.NewClient(cfg.API, cfg.Retry, logger.Discard())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	h, err := New(cfg, client, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return h
}
