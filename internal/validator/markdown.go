// Package validator checks a harvested output tree: frontmatter integrity, image
// references and the metadata index.
package validator

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"hcharvest/internal/convert"
	"hcharvest/internal/index"
	"hcharvest/pkg/metadata"
)

// ErrNotADirectory is returned when the output root is missing.
var ErrNotADirectory = errors.New("output root is not a directory")

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) String() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s (%s)", e.File, e.Field, e.Message, e.Value)
}

// ValidationResult contains validation results.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
	Stats    ValidationStats
	IsValid  bool
}

// ValidationStats contains validation statistics.
type ValidationStats struct {
	Files         int
	ValidFiles    int
	InvalidFiles  int
	LocalImages   int
	RemoteImages  int
	IndexEntries  int
	MissingImages int
}

// OutputVerifier validates the files a harvest produced.
type OutputVerifier struct {
	markdown           goldmark.Markdown
	root               string
	requireFrontmatter bool
}

// NewOutputVerifier creates a verifier for the tree under root.
func NewOutputVerifier(root string, requireFrontmatter bool) *OutputVerifier {
	return &OutputVerifier{
		markdown:           goldmark.New(goldmark.WithExtensions(extension.GFM)),
		root:               root,
		requireFrontmatter: requireFrontmatter,
	}
}

var htmlImagePattern = regexp.MustCompile(`(?i)<img[^>]+src="([^"]+)"`)

// VerifyTree checks every Markdown file under articles/ and the index.
func (v *OutputVerifier) VerifyTree() (*ValidationResult, error) {
	info, err := os.Stat(v.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, v.root)
	}

	result := &ValidationResult{IsValid: true}

	articlesDir := filepath.Join(v.root, "articles")

	err = filepath.WalkDir(articlesDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == articlesDir {
				return fs.SkipDir
			}

			return walkErr
		}

		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		errs := v.VerifyDocument(path, content, &result.Stats)

		result.Stats.Files++
		if len(errs) > 0 {
			result.Stats.InvalidFiles++
			result.Errors = append(result.Errors, errs...)
		} else {
			result.Stats.ValidFiles++
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", articlesDir, err)
	}

	result.Errors = append(result.Errors, v.verifyIndex(&result.Stats)...)

	if result.Stats.RemoteImages > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d image references still point at remote URLs", result.Stats.RemoteImages))
	}

	result.IsValid = len(result.Errors) == 0

	return result, nil
}

// VerifyDocument checks one Markdown file. stats may be nil.
func (v *OutputVerifier) VerifyDocument(path string, content []byte, stats *ValidationStats) []ValidationError {
	if stats == nil {
		stats = &ValidationStats{}
	}

	rel := v.relative(path)

	var errs []ValidationError

	body := string(content)

	if _, err := metadata.Verify(body); err != nil {
		switch {
		case errors.Is(err, metadata.ErrNoFrontmatter):
			if v.requireFrontmatter {
				errs = append(errs, ValidationError{File: rel, Field: "frontmatter", Message: "missing"})
			}
		default:
			errs = append(errs, ValidationError{File: rel, Field: "frontmatter", Message: err.Error()})
		}
	}

	if _, stripped, err := metadata.Extract(body); err == nil {
		body = stripped
	}

	for _, token := range convert.FindPlaceholders(body) {
		errs = append(errs, ValidationError{File: rel, Field: "image", Value: token, Message: "placeholder left in output"})
	}

	for _, dest := range v.imageDestinations([]byte(body)) {
		if len(convert.FindPlaceholders(dest)) > 0 {
			continue
		}

		if isRemote(dest) {
			stats.RemoteImages++
			continue
		}

		stats.LocalImages++

		local := dest
		if unescaped, err := url.PathUnescape(dest); err == nil {
			local = unescaped
		}

		target := filepath.Join(filepath.Dir(path), filepath.FromSlash(local))
		if _, err := os.Stat(target); err != nil {
			stats.MissingImages++
			errs = append(errs, ValidationError{File: rel, Field: "image", Value: dest, Message: "local image does not exist"})
		}
	}

	return errs
}

// imageDestinations collects Markdown image destinations and <img> sources in raw HTML.
func (v *OutputVerifier) imageDestinations(src []byte) []string {
	doc := v.markdown.Parser().Parse(text.NewReader(src))

	var dests []string

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Image:
			dests = append(dests, string(node.Destination))
		case *ast.HTMLBlock:
			dests = append(dests, htmlImages(node.Lines().Value(src))...)
		case *ast.RawHTML:
			dests = append(dests, htmlImages(node.Segments.Value(src))...)
		}

		return ast.WalkContinue, nil
	})

	return dests
}

func htmlImages(raw []byte) []string {
	var out []string
	for _, m := range htmlImagePattern.FindAllSubmatch(raw, -1) {
		out = append(out, string(m[1]))
	}

	return out
}

// verifyIndex checks that every index entry points at an existing, unique file.
func (v *OutputVerifier) verifyIndex(stats *ValidationStats) []ValidationError {
	records, err := index.Load(filepath.Join(v.root, index.FileName))
	if err != nil {
		return []ValidationError{{File: index.FileName, Field: "index", Message: err.Error()}}
	}

	stats.IndexEntries = len(records)

	var errs []ValidationError

	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		key := strings.ToLower(rec.LocalMarkdownPath)
		if seen[key] {
			errs = append(errs, ValidationError{File: index.FileName, Field: "local_markdown_path", Value: rec.LocalMarkdownPath, Message: "duplicate path"})
		}

		seen[key] = true

		if _, err := os.Stat(filepath.Join(v.root, filepath.FromSlash(rec.LocalMarkdownPath))); err != nil {
			errs = append(errs, ValidationError{File: index.FileName, Field: "local_markdown_path", Value: rec.LocalMarkdownPath, Message: "file does not exist"})
		}
	}

	return errs
}

func (v *OutputVerifier) relative(path string) string {
	if rel, err := filepath.Rel(v.root, path); err == nil {
		return filepath.ToSlash(rel)
	}

	return path
}

func isRemote(dest string) bool {
	lower := strings.ToLower(dest)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") || strings.HasPrefix(lower, "data:")
}
