// Package localize downloads article images once per run and points the Markdown at the local copies.
package localize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/logger"
	"hcharvest/internal/models"
	"hcharvest/pkg/utils"
)

var (
	// ErrUnsupportedURL is returned for image sources that are neither http(s) nor data URIs.
	ErrUnsupportedURL = errors.New("unsupported image url")
	// ErrEmptyImage is returned when a download yields no bytes.
	ErrEmptyImage = errors.New("empty image")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("localizer closed")
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (apiclient.Download, error)
}

// Failure records an image that could not be localized. The Markdown keeps the
// remote URL for it. RemoteURL is SourceURL resolved against the article URL.
type Failure struct {
	Err         error
	ArticleID   string
	SourceURL   string
	RemoteURL   string
	Placeholder string
}

// Remote returns the absolute URL when one could be resolved, else the source as written.
func (f Failure) Remote() string {
	if f.RemoteURL != "" {
		return f.RemoteURL
	}

	return f.SourceURL
}

// Resolution maps placeholders of one article to their local images.
type Resolution struct {
	Images   map[string]models.LocalImage
	Failures []Failure
}

// Stats counts distinct image URLs handled in a run.
type Stats struct {
	Downloaded int
	Failed     int
}

type entry struct {
	done  chan struct{}
	err   error
	image models.LocalImage
}

type claim struct {
	reply chan claimReply
	url   string
}

type claimReply struct {
	entry *entry
	owner bool
}

// Localizer owns the run-wide table of downloaded images. A single goroutine
// serializes access to the table; the first caller to claim a URL downloads it
// and every other caller waits for that result.
type Localizer struct {
	fetcher   Fetcher
	logger    *logger.Logger
	claims    chan claim
	quit      chan struct{}
	imagesDir string

	closeOnce  sync.Once
	downloaded atomic.Int64
	failed     atomic.Int64
}

// New starts a localizer writing into imagesDir.
func New(fetcher Fetcher, imagesDir string, log *logger.Logger) *Localizer {
	if log == nil {
		log = logger.Discard()
	}

	l := &Localizer{
		fetcher:   fetcher,
		logger:    log.With("component", "localize"),
		claims:    make(chan claim),
		quit:      make(chan struct{}),
		imagesDir: imagesDir,
	}

	go l.run()

	return l
}

func (l *Localizer) run() {
	table := make(map[string]*entry)

	for {
		select {
		case c := <-l.claims:
			e, ok := table[c.url]
			if !ok {
				e = &entry{done: make(chan struct{})}
				table[c.url] = e
			}

			c.reply <- claimReply{entry: e, owner: !ok}
		case <-l.quit:
			return
		}
	}
}

// Close stops the table goroutine. Pending and later calls fail with ErrClosed.
func (l *Localizer) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
}

// Stats reports the distinct URLs downloaded and failed so far.
func (l *Localizer) Stats() Stats {
	return Stats{
		Downloaded: int(l.downloaded.Load()),
		Failed:     int(l.failed.Load()),
	}
}

// Localize resolves every image of one article. Relative sources are resolved
// against baseURL. Failures never abort the article.
func (l *Localizer) Localize(ctx context.Context, baseURL string, refs []models.ImageRef) Resolution {
	res := Resolution{Images: make(map[string]models.LocalImage, len(refs))}

	for _, ref := range refs {
		source := resolveSource(baseURL, ref.SourceURL)

		img, err := l.resolve(ctx, source)
		if err != nil {
			l.logger.Warn("Image not localized",
				"article_id", ref.ArticleID,
				"url", truncateURL(source),
				"error", err,
			)

			res.Failures = append(res.Failures, Failure{
				Err:         err,
				ArticleID:   ref.ArticleID,
				SourceURL:   ref.SourceURL,
				RemoteURL:   source,
				Placeholder: ref.Placeholder,
			})

			continue
		}

		res.Images[ref.Placeholder] = img
	}

	return res
}

func (l *Localizer) resolve(ctx context.Context, source string) (models.LocalImage, error) {
	select {
	case <-l.quit:
		return models.LocalImage{}, ErrClosed
	default:
	}

	reply := make(chan claimReply, 1)

	select {
	case l.claims <- claim{url: source, reply: reply}:
	case <-l.quit:
		return models.LocalImage{}, ErrClosed
	case <-ctx.Done():
		return models.LocalImage{}, ctx.Err()
	}

	r := <-reply

	if r.owner {
		r.entry.image, r.entry.err = l.store(ctx, source)
		if r.entry.err != nil {
			l.failed.Add(1)
		} else {
			l.downloaded.Add(1)
		}

		close(r.entry.done)

		return r.entry.image, r.entry.err
	}

	select {
	case <-r.entry.done:
		return r.entry.image, r.entry.err
	case <-ctx.Done():
		return models.LocalImage{}, ctx.Err()
	}
}

// store fetches source and writes it under a content-derived name.
func (l *Localizer) store(ctx context.Context, source string) (models.LocalImage, error) {
	var (
		data        []byte
		contentType string
	)

	switch {
	case isDataURI(source):
		decoded, err := decodeDataURI(source)
		if err != nil {
			return models.LocalImage{}, err
		}

		data, contentType = decoded.data, decoded.contentType
	case isHTTP(source):
		dl, err := l.fetcher.Download(ctx, source)
		if err != nil {
			return models.LocalImage{}, err
		}

		data, contentType = dl.Data, dl.ContentType
	default:
		return models.LocalImage{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, truncateURL(source))
	}

	if len(data) == 0 {
		return models.LocalImage{}, ErrEmptyImage
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(l.imagesDir, fileName(source, hash, contentType, data))

	if _, err := os.Stat(path); err != nil {
		if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
			return models.LocalImage{}, fmt.Errorf("failed to write image: %w", err)
		}
	}

	l.logger.Debug("Image stored", "url", truncateURL(source), "path", path, "bytes", len(data))

	return models.LocalImage{
		SourceURL:   source,
		LocalPath:   path,
		ContentHash: hash,
	}, nil
}

func isHTTP(source string) bool {
	lower := strings.ToLower(source)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// truncateURL keeps data URIs from flooding logs.
func truncateURL(u string) string {
	const limit = 120
	if len(u) <= limit {
		return u
	}

	return u[:limit] + "..."
}
