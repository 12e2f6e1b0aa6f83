package localize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"hcharvest/internal/convert"
	"hcharvest/internal/models"
)

// ErrUnresolvedPlaceholder means a placeholder survived rewriting.
var ErrUnresolvedPlaceholder = errors.New("unresolved image placeholder")

var destinationEscaper = strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29")

// Rewrite replaces every placeholder in markdown: localized images become paths
// relative to markdownPath, failed ones fall back to their absolute remote URL.
func Rewrite(markdown string, refs []models.ImageRef, res Resolution, markdownPath string) (string, error) {
	dir := filepath.Dir(markdownPath)

	remote := make(map[string]string, len(res.Failures))
	for _, f := range res.Failures {
		remote[f.Placeholder] = f.Remote()
	}

	pairs := make([]string, 0, 2*len(refs))

	for _, ref := range refs {
		target := ref.SourceURL
		if u, ok := remote[ref.Placeholder]; ok {
			target = u
		}

		if img, ok := res.Images[ref.Placeholder]; ok {
			rel, err := filepath.Rel(dir, img.LocalPath)
			if err != nil {
				return "", fmt.Errorf("failed to relativize %s: %w", img.LocalPath, err)
			}

			target = filepath.ToSlash(rel)
		}

		pairs = append(pairs, ref.Placeholder, destinationEscaper.Replace(target))
	}

	out := strings.NewReplacer(pairs...).Replace(markdown)

	if left := convert.FindPlaceholders(out); len(left) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(left, ", "))
	}

	return out, nil
}
