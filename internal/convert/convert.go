// Package convert turns article HTML into Markdown and records every image it finds.
package convert

import (
	"errors"
	"fmt"
	"strings"

	"hcharvest/internal/formatter"
	"hcharvest/internal/logger"
	"hcharvest/internal/models"
)

// ErrUnknownEngine is returned by NewEngine for an unrecognized engine name.
var ErrUnknownEngine = errors.New("unknown converter engine")

// HTMLToMarkdown is the capability the pipeline needs from a conversion engine.
// Implementations may return an error for input they cannot handle; the Converter
// degrades to plain text in that case.
type HTMLToMarkdown interface {
	Name() string
	Convert(html string) (string, error)
}

// NewEngine returns the engine registered under name ("native" or "library").
func NewEngine(name string) (HTMLToMarkdown, error) {
	switch name {
	case "", "native":
		return NewNative(), nil
	case "library":
		return NewLibrary(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
}

// Result is the outcome of converting one article body.
type Result struct {
	Markdown        string
	Images          []models.ImageRef
	Warnings        []string
	// UnsourcedImages counts <img> elements without a src. Their alt text, if
	// any, is kept as plain text.
	UnsourcedImages int
	Degraded        bool
}

// Converter runs the sanitize, preprocess, convert and format stages.
type Converter struct {
	engine HTMLToMarkdown
	logger *logger.Logger
}

// NewConverter wraps engine.
func NewConverter(engine HTMLToMarkdown, log *logger.Logger) *Converter {
	if log == nil {
		log = logger.Discard()
	}

	return &Converter{
		engine: engine,
		logger: log.With("component", "convert", "engine", engine.Name()),
	}
}

// Convert converts one article body. It never panics: engine failures fall back
// to the plain text of the body, and Degraded is set. Every <img> in the body
// with a source yields exactly one ImageRef whose placeholder occurs in Markdown.
func (c *Converter) Convert(articleID, bodyHTML string) (res Result, err error) {
	prepared, err := prepare(articleID, bodyHTML)
	if err != nil {
		// goquery could not even build a document; treat the body as text.
		c.logger.Warn("Preprocessing failed, using plain text", "article_id", articleID, "error", err)

		return Result{
			Markdown: plainText(bodyHTML) + "\n",
			Warnings: []string{err.Error()},
			Degraded: true,
		}, nil
	}

	res.Images = prepared.images
	res.Warnings = prepared.warnings
	res.UnsourcedImages = prepared.unsourced

	md, convErr := c.runEngine(prepared.html)
	if convErr != nil {
		c.logger.Warn("Conversion failed, using plain text", "article_id", articleID, "error", convErr)

		res.Degraded = true
		res.Warnings = append(res.Warnings, convErr.Error())
		md = prepared.text
	}

	md = ensurePlaceholders(md, res.Images)

	formatted, fmtErr := formatter.FormatMarkdown(md)
	if fmtErr == nil {
		md = formatted
	}

	res.Markdown = strings.TrimSpace(md) + "\n"

	return res, nil
}

// runEngine shields the pipeline from panics inside the engine.
func (c *Converter) runEngine(html string) (md string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s engine panicked: %v", c.engine.Name(), r)
		}
	}()

	return c.engine.Convert(html)
}

// ensurePlaceholders appends an image line for every placeholder the engine dropped.
func ensurePlaceholders(md string, images []models.ImageRef) string {
	var missing []string

	for _, img := range images {
		if !strings.Contains(md, img.Placeholder) {
			missing = append(missing, imageMarkdown(img.Alt, img.Placeholder))
		}
	}

	if len(missing) == 0 {
		return md
	}

	return strings.TrimRight(md, "\n") + "\n\n" + strings.Join(missing, "\n\n") + "\n"
}
