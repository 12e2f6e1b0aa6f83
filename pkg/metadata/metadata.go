// Package metadata renders and reads the YAML frontmatter carried by every harvested article.
package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Metadata verification errors.
var (
	ErrNoFrontmatter = errors.New("no frontmatter block found")
	ErrNoHashFound   = errors.New("no hash found in frontmatter")
	ErrHashMismatch  = errors.New("hash mismatch")
)

// Frontmatter describes where an article came from.
type Frontmatter struct {
	Title       string `yaml:"title"`
	Collection  string `yaml:"collection"`
	Section     string `yaml:"section,omitempty"`
	ArticleID   string `yaml:"article_id"`
	SourceURL   string `yaml:"source_url,omitempty"`
	UpdatedAt   string `yaml:"updated_at,omitempty"`
	ContentHash string `yaml:"content_hash"`
}

// CalculateHash computes the SHA-256 hash of data as lowercase hex.
func CalculateHash(data []byte) string {
	hash := sha256.Sum256(data)

	return hex.EncodeToString(hash[:])
}

// normalizeBody strips the blank lines separating the frontmatter from the body so
// rendering and extraction hash the same bytes.
func normalizeBody(body string) string {
	return strings.Trim(body, "\n")
}

// Render prefixes body with a frontmatter block. ContentHash is always recomputed.
func Render(fm Frontmatter, body string) (string, error) {
	clean := normalizeBody(body)
	fm.ContentHash = CalculateHash([]byte(clean))

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	return delimiter + "\n" + buf.String() + delimiter + "\n\n" + clean + "\n", nil
}

// Extract splits content into its frontmatter and body. A document without
// frontmatter returns ErrNoFrontmatter together with the untouched content.
func Extract(content string) (*Frontmatter, string, error) {
	var fm Frontmatter

	body, err := frontmatter.Parse(strings.NewReader(content), &fm)
	if err != nil {
		return nil, content, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	if fm.ArticleID == "" && fm.ContentHash == "" {
		return nil, content, ErrNoFrontmatter
	}

	return &fm, normalizeBody(string(body)), nil
}

// Verify checks the body against the hash recorded in its frontmatter.
func Verify(content string) (bool, error) {
	fm, body, err := Extract(content)
	if err != nil {
		return false, err
	}

	if fm.ContentHash == "" {
		return false, ErrNoHashFound
	}

	calculated := CalculateHash([]byte(body))
	if calculated != fm.ContentHash {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, fm.ContentHash, calculated)
	}

	return true, nil
}
