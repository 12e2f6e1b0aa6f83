package localize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/convert"
	"hcharvest/internal/models"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake")

type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	bodies map[string]apiclient.Download
}

func newFakeFetcher(bodies map[string]apiclient.Download) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), bodies: bodies}
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string) (apiclient.Download, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	f.mu.Unlock()

	dl, ok := f.bodies[rawURL]
	if !ok {
		return apiclient.Download{}, &apiclient.StatusError{URL: rawURL, StatusCode: 404}
	}

	return dl, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[rawURL]
}

func ref(articleID string, n int, src string) models.ImageRef {
	return models.ImageRef{
		SourceURL:   src,
		ArticleID:   articleID,
		Placeholder: convert.Placeholder(n),
	}
}

func TestLocalize_DownloadsSharedImageOnce(t *testing.T) {
	const shared = "https://cdn.test/img/Screen%20Shot.png"

	fetcher := newFakeFetcher(map[string]apiclient.Download{
		shared: {ContentType: "image/png", Data: pngBytes},
	})

	dir := t.TempDir()
	l := New(fetcher, dir, nil)
	defer l.Close()

	var (
		wg      sync.WaitGroup
		results = make([]Resolution, 8)
	)

	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i] = l.Localize(context.Background(), "", []models.ImageRef{ref("a", 0, shared)})
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, fetcher.count(shared))

	first := results[0].Images[convert.Placeholder(0)]
	for _, res := range results {
		assert.Empty(t, res.Failures)
		assert.Equal(t, first, res.Images[convert.Placeholder(0)])
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	name := entries[0].Name()
	assert.True(t, strings.HasSuffix(name, "-"+first.ContentHash[:12]+".png"), name)
	assert.Equal(t, filepath.Join(dir, name), first.LocalPath)

	assert.Equal(t, Stats{Downloaded: 1}, l.Stats())
}

func TestLocalize_FailureKeepsGoing(t *testing.T) {
	fetcher := newFakeFetcher(map[string]apiclient.Download{
		"https://cdn.test/ok.gif": {ContentType: "image/gif", Data: []byte("GIF89a....")},
	})

	l := New(fetcher, t.TempDir(), nil)
	defer l.Close()

	res := l.Localize(context.Background(), "", []models.ImageRef{
		ref("a", 0, "https://cdn.test/missing.png"),
		ref("a", 1, "https://cdn.test/ok.gif"),
	})

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "https://cdn.test/missing.png", res.Failures[0].SourceURL)
	assert.Equal(t, "https://cdn.test/missing.png", res.Failures[0].Remote())
	assert.Equal(t, convert.Placeholder(0), res.Failures[0].Placeholder)

	var statusErr *apiclient.StatusError
	assert.True(t, errors.As(res.Failures[0].Err, &statusErr))

	assert.Contains(t, res.Images, convert.Placeholder(1))
	assert.Equal(t, Stats{Downloaded: 1, Failed: 1}, l.Stats())
}

func TestLocalize_DataURI(t *testing.T) {
	fetcher := newFakeFetcher(nil)

	dir := t.TempDir()
	l := New(fetcher, dir, nil)
	defer l.Close()

	// 1x1 transparent GIF.
	src := "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

	res := l.Localize(context.Background(), "", []models.ImageRef{ref("a", 0, src)})
	require.Empty(t, res.Failures)

	img := res.Images[convert.Placeholder(0)]
	assert.True(t, strings.HasPrefix(filepath.Base(img.LocalPath), "inline-"))
	assert.Equal(t, ".gif", filepath.Ext(img.LocalPath))

	data, err := os.ReadFile(img.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "GIF89a", string(data[:6]))
	assert.Zero(t, fetcher.count(src))
}

func TestLocalize_ResolvesRelativeSources(t *testing.T) {
	fetcher := newFakeFetcher(map[string]apiclient.Download{
		"https://help.test/assets/logo.png":  {ContentType: "image/png", Data: pngBytes},
		"https://static.test/shared/pic.png": {ContentType: "image/png", Data: pngBytes},
	})

	l := New(fetcher, t.TempDir(), nil)
	defer l.Close()

	res := l.Localize(context.Background(), "https://help.test/en/articles/1-intro", []models.ImageRef{
		ref("a", 0, "/assets/logo.png"),
		ref("a", 1, "//static.test/shared/pic.png"),
	})

	assert.Empty(t, res.Failures)
	assert.Len(t, res.Images, 2)
}

func TestLocalize_FailedRelativeSourceIsResolved(t *testing.T) {
	l := New(newFakeFetcher(nil), t.TempDir(), nil)
	defer l.Close()

	res := l.Localize(context.Background(), "https://help.test/en/articles/1-intro", []models.ImageRef{
		ref("a", 0, "/img/missing.png"),
	})

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "/img/missing.png", res.Failures[0].SourceURL)
	assert.Equal(t, "https://help.test/img/missing.png", res.Failures[0].RemoteURL)
}

func TestLocalize_UnsupportedScheme(t *testing.T) {
	l := New(newFakeFetcher(nil), t.TempDir(), nil)
	defer l.Close()

	res := l.Localize(context.Background(), "", []models.ImageRef{ref("a", 0, "ftp://files.test/a.png")})

	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrUnsupportedURL)
}

func TestLocalize_AfterClose(t *testing.T) {
	l := New(newFakeFetcher(nil), t.TempDir(), nil)
	l.Close()
	l.Close()

	res := l.Localize(context.Background(), "", []models.ImageRef{ref("a", 0, "https://cdn.test/a.png")})

	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrClosed)
}

func TestFileName(t *testing.T) {
	hash := strings.Repeat("ab", 32)

	tests := []struct {
		name        string
		source      string
		contentType string
		wantExt     string
	}{
		{name: "extension from url", source: "https://x.test/a/photo.PNG", contentType: "application/octet-stream", wantExt: ".png"},
		{name: "jpeg normalized", source: "https://x.test/a/photo.jpeg", wantExt: ".jpg"},
		{name: "extension from content type", source: "https://x.test/render?id=3", contentType: "image/webp", wantExt: ".webp"},
		{name: "content type with params", source: "https://x.test/i", contentType: "image/svg+xml; charset=utf-8", wantExt: ".svg"},
		{name: "unknown falls back to jpg", source: "https://x.test/i", contentType: "", wantExt: ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fileName(tt.source, hash, tt.contentType, []byte("not an image"))

			assert.Equal(t, tt.wantExt, filepath.Ext(got))
			assert.Contains(t, got, "-"+hash[:12])
			assert.NotContains(t, got, "/")
		})
	}
}

func TestDecodeDataURI(t *testing.T) {
	got, err := decodeDataURI("data:text/plain,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got.data))
	assert.Equal(t, "text/plain", got.contentType)

	got, err = decodeDataURI("data:image/png;BASE64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got.data))
	assert.Equal(t, "image/png", got.contentType)

	_, err = decodeDataURI("data:image/png;base64")
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	_, err = decodeDataURI("data:image/png;base64,!!!")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
}
