// Package organize plans where each article lands in the output tree.
package organize

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"hcharvest/internal/models"
	"hcharvest/pkg/utils"
)

const (
	// ArticlesDir is the subtree holding Markdown files.
	ArticlesDir = "articles"
	// Untitled replaces names that sanitize to nothing.
	Untitled = "Untitled"

	defaultMaxNameLength = 100
	// maxNameBytes bounds one path segment. It leaves room under the common
	// 255-byte limit for ".md" and the temp-file affixes of atomic writes.
	maxNameBytes = 200
	maxCollisionSuffix   = 10000
)

// ErrNoPlacement is returned when no free file name could be found.
var ErrNoPlacement = errors.New("no free placement")

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Organizer assigns collision-free relative paths. It remembers every path it has
// handed out; the first article to claim a name keeps it.
type Organizer struct {
	taken         map[string]bool
	helper        *utils.StringHelper
	mu            sync.Mutex
	maxNameLength int
}

// New creates an organizer truncating names to maxNameLength runes and at most
// maxNameBytes bytes.
func New(maxNameLength int) *Organizer {
	if maxNameLength < 1 {
		maxNameLength = defaultMaxNameLength
	}

	return &Organizer{
		taken:         make(map[string]bool),
		helper:        utils.NewStringHelper(),
		maxNameLength: maxNameLength,
	}
}

// PlacementFor returns articles/<collection>/<section>/<title>.md, slash separated
// and relative to the output root. sectionName may be nil. Collisions are detected
// case-insensitively within one directory.
func (o *Organizer) PlacementFor(article models.Article, collectionName string, sectionName *string) (string, error) {
	dir := path.Join(ArticlesDir, o.Sanitize(collectionName))
	if sectionName != nil {
		dir = path.Join(dir, o.Sanitize(*sectionName))
	}

	stem := o.Sanitize(article.Title)
	id := o.helper.ReplaceFunc(article.ID, isIllegal, '_')

	o.mu.Lock()
	defer o.mu.Unlock()

	for n := 0; n < maxCollisionSuffix; n++ {
		candidate := path.Join(dir, o.withSuffix(stem, suffix(id, n))+".md")
		key := strings.ToLower(candidate)

		if !o.taken[key] {
			o.taken[key] = true

			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w for article %s in %s", ErrNoPlacement, article.ID, dir)
}

// suffix is empty for the first attempt, then -<id>, then -<id>-2, -<id>-3...
func suffix(id string, n int) string {
	switch {
	case n == 0:
		return ""
	case id == "":
		return fmt.Sprintf("-%d", n+1)
	case n == 1:
		return "-" + id
	default:
		return fmt.Sprintf("-%s-%d", id, n)
	}
}

// withSuffix shortens stem so that stem+suffix stays within the name limit.
func (o *Organizer) withSuffix(stem, sfx string) string {
	if sfx == "" {
		return stem
	}

	room := o.maxNameLength - utf8.RuneCountInString(sfx)
	if room < 1 {
		room = 1
	}

	byteRoom := max(maxNameBytes-len(sfx), 1)

	return trimName(o.truncate(stem, room, byteRoom)) + sfx
}

// Sanitize turns a display name into a single safe path segment.
func (o *Organizer) Sanitize(name string) string {
	s := o.helper.NormalizeWhitespace(name)
	s = o.helper.ReplaceFunc(s, isIllegal, '_')
	s = trimName(o.truncate(trimName(s), o.maxNameLength, maxNameBytes))

	if strings.Trim(s, "._ ") == "" {
		return Untitled
	}

	stem, _, _ := strings.Cut(s, ".")
	if reservedNames[strings.ToUpper(strings.TrimSpace(stem))] {
		s = "_" + s
	}

	return s
}

func (o *Organizer) truncate(s string, runes, bytes int) string {
	return o.helper.TruncateBytes(o.helper.TruncateRunes(s, runes), bytes)
}

func isIllegal(r rune) bool {
	return strings.ContainsRune(`<>:"/\|?*`, r) || utils.IsControl(r)
}

func trimName(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ". ")
}
