// Package harvest drives a full run: enumerate the content tree, plan placements,
// process articles in parallel and write the index.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/config"
	"hcharvest/internal/convert"
	"hcharvest/internal/index"
	"hcharvest/internal/localize"
	"hcharvest/internal/logger"
	"hcharvest/internal/models"
	"hcharvest/internal/normalizer"
	"hcharvest/internal/organize"
	"hcharvest/internal/validator"
	"hcharvest/pkg/metadata"
	"hcharvest/pkg/utils"
)

// ErrCanceled is returned when the context ends the run early.
var ErrCanceled = errors.New("harvest canceled")

// API is the slice of the help-center client a run needs.
type API interface {
	Collections(ctx context.Context) iter.Seq2[apiclient.CollectionPayload, error]
	Sections(ctx context.Context, collectionID string) iter.Seq2[apiclient.SectionPayload, error]
	Articles(ctx context.Context) iter.Seq2[apiclient.ArticlePayload, error]
	Article(ctx context.Context, id string) (apiclient.ArticlePayload, error)
	Download(ctx context.Context, rawURL string) (apiclient.Download, error)
}

// Harvester runs harvests against one API with one configuration.
type Harvester struct {
	cfg       *config.Config
	api       API
	converter *convert.Converter
	logger    *logger.Logger
}

// New creates a harvester. The converter engine comes from harvest.converter.
func New(cfg *config.Config, api API, log *logger.Logger) (*Harvester, error) {
	if log == nil {
		log = logger.Discard()
	}

	engine, err := convert.NewEngine(cfg.Harvest.Converter)
	if err != nil {
		return nil, err
	}

	return &Harvester{
		cfg:       cfg,
		api:       api,
		converter: convert.NewConverter(engine, log),
		logger:    log.With("component", "harvest"),
	}, nil
}

// job is one article with its planned placement.
type job struct {
	article        models.Article
	sectionName    *string
	collectionName string
	relPath        string
	seq            int
}

// outcome is what a successful article contributes to the run.
type outcome struct {
	imageFailures []localize.Failure
	record        models.MetadataRecord
	unsourced     int
	degraded      bool
}

// Run performs one harvest. A non-nil error means the run ended FailedFatal; the
// summary is returned in every case.
func (h *Harvester) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		State:     StateEnumerate,
		IndexPath: h.cfg.IndexPath(),
	}

	log := h.logger.With("run_id", summary.RunID)

	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
	}()

	fail := func(err error) (*Summary, error) {
		summary.State = StateFailedFatal
		log.Error("Harvest failed", "error", err)

		return summary, err
	}

	log.Info("Harvest started", "base_url", h.cfg.API.BaseURL, "output", h.cfg.Output.BasePath)

	jobs, err := h.enumerate(ctx, summary)
	if err != nil {
		return fail(err)
	}

	log.Info("Enumeration finished",
		"collections", summary.Collections,
		"sections", summary.Sections,
		"articles", len(jobs),
	)

	for _, dir := range []string{h.cfg.ArticlesDir(), h.cfg.ImagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(fmt.Errorf("failed to create %s: %w", dir, err))
		}
	}

	summary.State = StateProcess

	agg := index.NewAggregator()

	loc := localize.New(h.api, h.cfg.ImagesDir(), log)
	defer loc.Close()

	h.process(ctx, log, jobs, loc, agg, summary)

	summary.ImagesDownloaded = loc.Stats().Downloaded

	if ctx.Err() != nil {
		return fail(fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
	}

	summary.State = StateFlush

	if err := agg.Flush(summary.IndexPath); err != nil {
		return fail(err)
	}

	if h.cfg.Harvest.VerifyOutput {
		result, err := validator.NewOutputVerifier(h.cfg.Output.BasePath, h.cfg.Output.Frontmatter).VerifyTree()
		if err != nil {
			log.Warn("Output verification could not run", "error", err)
		} else {
			summary.Verification = result

			for _, e := range result.Errors {
				log.Warn("Output verification", "problem", e.String())
			}
		}
	}

	summary.State = StateCompleted

	log.Info("Harvest completed",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"images", summary.ImagesDownloaded,
		"image_failures", len(summary.ImageFailures),
	)

	return summary, nil
}

// enumerate walks collections, sections and articles and plans a placement for
// every article in listing order.
func (h *Harvester) enumerate(ctx context.Context, summary *Summary) ([]job, error) {
	proc := normalizer.NewProcessor()

	var collections []models.Collection

	for payload, err := range h.api.Collections(ctx) {
		if err != nil {
			return nil, &FatalEnumerationError{Phase: "collections", Err: err}
		}

		c, err := proc.AddCollection(payload)
		if err != nil {
			h.logger.Warn("Skipping collection", "error", err)
			continue
		}

		collections = append(collections, c)
	}

	summary.Collections = len(collections)

	for _, c := range collections {
		for payload, err := range h.api.Sections(ctx, c.ID) {
			if err != nil {
				return nil, &FatalEnumerationError{Phase: "sections of collection " + c.ID, Err: err}
			}

			if _, err := proc.AddSection(payload, c.ID); err != nil {
				h.logger.Warn("Skipping section", "collection_id", c.ID, "error", err)
				continue
			}

			summary.Sections++
		}
	}

	organizer := organize.New(h.cfg.Output.MaxNameLength)

	var jobs []job

	for payload, err := range h.api.Articles(ctx) {
		if err != nil {
			return nil, &FatalEnumerationError{Phase: "articles", Err: err}
		}

		if !h.wanted(payload) {
			continue
		}

		if limit := h.cfg.Harvest.Limit; limit > 0 && summary.Attempted >= limit {
			break
		}

		summary.Attempted++

		a, err := proc.Article(payload)
		if err != nil {
			h.recordFailure(summary, &PerArticleError{ArticleID: payload.ID.String(), Title: payload.Title, Stage: StageNormalize, Err: err})
			continue
		}

		collectionName := proc.CollectionName(a)
		sectionName := proc.SectionName(a)

		relPath, err := organizer.PlacementFor(a, collectionName, sectionName)
		if err != nil {
			h.recordFailure(summary, &PerArticleError{ArticleID: a.ID, Title: a.Title, Stage: StagePlace, Err: err})
			continue
		}

		jobs = append(jobs, job{
			article:        a,
			collectionName: collectionName,
			sectionName:    sectionName,
			relPath:        relPath,
			seq:            len(jobs),
		})
	}

	return jobs, nil
}

// wanted applies the harvest.state filter. Articles whose listing omits the state
// are kept.
func (h *Harvester) wanted(p apiclient.ArticlePayload) bool {
	want := h.cfg.Harvest.State
	if want == "" || p.State == "" {
		return true
	}

	return strings.EqualFold(want, p.State)
}

func (h *Harvester) recordFailure(summary *Summary, err *PerArticleError) {
	h.logger.Error("Article skipped",
		"article_id", err.ArticleID,
		"title", err.Title,
		"stage", string(err.Stage),
		"error", err.Err,
	)

	summary.Failed++
	summary.Failures = append(summary.Failures, err)
}

// process runs jobs on a bounded pool. No new job starts once ctx is done.
func (h *Harvester) process(ctx context.Context, log *logger.Logger, jobs []job, loc *localize.Localizer, agg *index.Aggregator, summary *Summary) {
	concurrency := max(h.cfg.Harvest.Concurrency, 1)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sem  = make(chan struct{}, concurrency)
		done int
	)

dispatch:
	for _, j := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)

		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			out, perr := h.processArticle(ctx, loc, j)

			mu.Lock()
			defer mu.Unlock()

			done++

			if perr != nil {
				h.recordFailure(summary, perr)
			} else {
				summary.Succeeded++
				summary.ImageFailures = append(summary.ImageFailures, out.imageFailures...)
				summary.ImagesWithoutSource += out.unsourced

				if out.degraded {
					summary.Degraded = append(summary.Degraded, j.article.ID)
				}

				agg.Record(j.seq, out.record)
			}

			if done%10 == 0 || done == len(jobs) {
				log.Info("Harvest progress", "done", done, "total", len(jobs))
			}
		}(j)
	}

	wg.Wait()
}

// processArticle converts, localizes and writes one article.
func (h *Harvester) processArticle(ctx context.Context, loc *localize.Localizer, j job) (*outcome, *PerArticleError) {
	a := j.article

	fail := func(stage Stage, err error) (*outcome, *PerArticleError) {
		return nil, &PerArticleError{ArticleID: a.ID, Title: a.Title, Stage: stage, Err: err}
	}

	if !a.HasBody() {
		detail, err := h.api.Article(ctx, a.ID)
		if err != nil {
			return fail(StageFetch, err)
		}

		a.BodyHTML = detail.Body
		if a.SourceURL == "" {
			a.SourceURL = detail.URL
		}

		if a.UpdatedAt.IsZero() && detail.UpdatedAt > 0 {
			a.UpdatedAt = time.Unix(int64(detail.UpdatedAt), 0).UTC()
		}
	}

	res, err := h.converter.Convert(a.ID, a.BodyHTML)
	if err != nil {
		return fail(StageConvert, err)
	}

	if res.UnsourcedImages > 0 {
		h.logger.Warn("Images without source", "article_id", a.ID, "count", res.UnsourcedImages)
	}

	mdPath := filepath.Join(h.cfg.Output.BasePath, filepath.FromSlash(j.relPath))

	resolution := loc.Localize(ctx, a.SourceURL, res.Images)

	body, err := localize.Rewrite(res.Markdown, res.Images, resolution, mdPath)
	if err != nil {
		return fail(StageRewrite, err)
	}

	if h.cfg.Output.Frontmatter {
		body, err = metadata.Render(h.frontmatter(j, a), body)
		if err != nil {
			return fail(StageRender, err)
		}
	}

	if err := utils.WriteFileAtomic(mdPath, []byte(body), 0o644); err != nil {
		return fail(StageWrite, err)
	}

	return &outcome{
		imageFailures: resolution.Failures,
		unsourced:     res.UnsourcedImages,
		degraded:      res.Degraded,
		record: models.MetadataRecord{
			ArticleID:         a.ID,
			Title:             a.Title,
			CollectionName:    j.collectionName,
			SectionName:       j.sectionName,
			LocalMarkdownPath: j.relPath,
			SourceURL:         a.SourceURL,
			ImageCount:        len(res.Images),
		},
	}, nil
}

func (h *Harvester) frontmatter(j job, a models.Article) metadata.Frontmatter {
	fm := metadata.Frontmatter{
		Title:      a.Title,
		Collection: j.collectionName,
		ArticleID:  a.ID,
		SourceURL:  a.SourceURL,
	}

	if j.sectionName != nil {
		fm.Section = *j.sectionName
	}

	if !a.UpdatedAt.IsZero() {
		fm.UpdatedAt = a.UpdatedAt.UTC().Format(time.RFC3339)
	}

	return fm
}
