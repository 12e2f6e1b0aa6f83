package localize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/goliatone/go-slug"

	"hcharvest/pkg/utils"
)

// ErrInvalidDataURI is returned for data URIs that cannot be decoded.
var ErrInvalidDataURI = errors.New("invalid data uri")

const (
	hashLength    = 12
	maxStemLength = 60
	defaultStem   = "image"
	defaultExt    = ".jpg"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true, ".ico": true, ".avif": true, ".tif": true, ".tiff": true,
}

var preferredExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/x-icon":  ".ico",
	"image/avif":    ".avif",
	"image/tiff":    ".tiff",
}

// fileName derives <stem>-<hash prefix><ext>. Identical bytes from the same
// basename always land on the same file.
func fileName(source, hash, contentType string, data []byte) string {
	stem, ext := splitSource(source)

	if !imageExtensions[ext] {
		ext = extensionFor(contentType, data)
	}

	if ext == ".jpeg" {
		ext = ".jpg"
	}

	return stemSlug(stem) + "-" + hash[:hashLength] + ext
}

// splitSource returns the basename without extension and the lower-case extension.
func splitSource(source string) (string, string) {
	if isDataURI(source) {
		return "inline", ""
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", ""
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return "", ""
	}

	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}

	ext := strings.ToLower(path.Ext(base))

	return strings.TrimSuffix(base, path.Ext(base)), ext
}

func stemSlug(stem string) string {
	s, err := slug.Normalize(stem)
	if err != nil || s == "" {
		return defaultStem
	}

	s = utils.NewStringHelper().TruncateRunes(s, maxStemLength)

	return strings.Trim(s, "-_.")
}

// extensionFor picks an extension from the declared type, then from sniffing.
func extensionFor(contentType string, data []byte) string {
	for _, ct := range []string{contentType, http.DetectContentType(data)} {
		media, _, err := mime.ParseMediaType(ct)
		if err != nil {
			continue
		}

		if ext, ok := preferredExtensions[media]; ok {
			return ext
		}

		if !strings.HasPrefix(media, "image/") {
			continue
		}

		if exts, err := mime.ExtensionsByType(media); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}

	return defaultExt
}

// resolveSource makes protocol-relative and relative sources absolute.
func resolveSource(baseURL, src string) string {
	src = strings.TrimSpace(src)

	if isDataURI(src) || isHTTP(src) {
		return src
	}

	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}

	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return src
	}

	ref, err := url.Parse(src)
	if err != nil {
		return src
	}

	return base.ResolveReference(ref).String()
}

func isDataURI(source string) bool {
	return strings.HasPrefix(strings.ToLower(source), "data:")
}

type dataURI struct {
	contentType string
	data        []byte
}

// decodeDataURI parses data:[<media type>][;base64],<data>.
func decodeDataURI(source string) (*dataURI, error) {
	meta, payload, ok := strings.Cut(source[len("data:"):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}

	isBase64 := false
	if trimmed, found := strings.CutSuffix(strings.ToLower(meta), ";base64"); found {
		isBase64 = true
		meta = meta[:len(trimmed)]
	}

	contentType := meta
	if contentType == "" {
		contentType = "text/plain"
	}

	if !isBase64 {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
		}

		return &dataURI{contentType: contentType, data: []byte(data)}, nil
	}

	payload = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}

		return r
	}, payload)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(payload); err == nil {
			return &dataURI{contentType: contentType, data: data}, nil
		}
	}

	return nil, fmt.Errorf("%w: bad base64 payload", ErrInvalidDataURI)
}
