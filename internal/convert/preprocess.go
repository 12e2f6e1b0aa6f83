package convert

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"hcharvest/internal/models"
	"hcharvest/pkg/utils"
)

const placeholderPrefix = "hc-image-placeholder-"

// placeholderPattern matches any image placeholder token.
var placeholderPattern = regexp.MustCompile(regexp.QuoteMeta(placeholderPrefix) + `[0-9a-z-]+\.invalid`)

// Placeholder returns the token standing in for the n-th image of an article.
// Tokens are unique within one article and never look like a real path.
func Placeholder(n int) string {
	return fmt.Sprintf("%s%04d.invalid", placeholderPrefix, n)
}

// FindPlaceholders returns every placeholder token left in text.
func FindPlaceholders(text string) []string {
	return placeholderPattern.FindAllString(text, -1)
}

var policy = newPolicy()

// newPolicy is a user-generated-content policy that keeps what help articles need
// to survive conversion: table spans, code language hints, embeds and inline images.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("colspan", "rowspan").Matching(regexp.MustCompile(`^[0-9]+$`)).OnElements("td", "th")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[\w\s+#.-]+$`)).OnElements("pre", "code")
	p.AllowAttrs("data-language").OnElements("pre", "code")
	p.AllowElements("iframe", "video", "source", "embed", "object")
	p.AllowAttrs("src").OnElements("iframe", "video", "source", "embed")
	p.AllowAttrs("data").OnElements("object")
	p.AllowDataURIImages()
	p.AllowNoAttrs().OnElements("img")
	p.RequireNoFollowOnLinks(false)

	return p
}

type prepared struct {
	html      string
	text      string
	images    []models.ImageRef
	warnings  []string
	unsourced int
}

// prepare sanitizes the body, swaps image sources for placeholders and rewrites
// embeds as plain links. Images are numbered in document order.
func prepare(articleID, bodyHTML string) (*prepared, error) {
	clean := policy.Sanitize(bodyHTML)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("failed to parse article body: %w", err)
	}

	out := &prepared{}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			out.unsourced++

			alt := strings.TrimSpace(s.AttrOr("alt", ""))
			if alt == "" {
				out.warnings = append(out.warnings, "image without source or alt text removed")
				s.Remove()

				return
			}

			out.warnings = append(out.warnings, "image without source replaced by its alt text")
			s.ReplaceWithHtml(htmlEscape(alt))

			return
		}

		token := Placeholder(len(out.images))
		out.images = append(out.images, models.ImageRef{
			SourceURL:   src,
			ArticleID:   articleID,
			Placeholder: token,
			Alt:         strings.TrimSpace(s.AttrOr("alt", "")),
		})

		s.SetAttr("src", token)
		s.RemoveAttr("srcset")
	})

	doc.Find("iframe, video, embed, object").Each(func(_ int, s *goquery.Selection) {
		src := embedSource(s)
		if src == "" {
			s.ReplaceWithHtml("<p>[Embedded content]</p>")
			return
		}

		escaped := htmlEscape(src)
		s.ReplaceWithHtml(fmt.Sprintf(`<p><a href="%s">Embedded content: %s</a></p>`, escaped, escaped))
	})

	body := doc.Find("body")

	out.html, err = body.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render article body: %w", err)
	}

	out.text = fallbackText(body, out.images)

	return out, nil
}

func embedSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}

	return strings.TrimSpace(s.Find("source[src]").First().AttrOr("src", ""))
}

// fallbackText is the degraded rendition used when an engine fails: block text
// separated by blank lines, with every image kept as a Markdown image.
func fallbackText(body *goquery.Selection, images []models.ImageRef) string {
	var parts []string

	body.Find("p, h1, h2, h3, h4, h5, h6, li, pre, td, th, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li, pre, td, blockquote").Length() > 0 {
			return
		}

		if text := plainText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	if len(parts) == 0 {
		if text := plainText(body.Text()); text != "" {
			parts = append(parts, text)
		}
	}

	for _, img := range images {
		parts = append(parts, imageMarkdown(img.Alt, img.Placeholder))
	}

	return strings.Join(parts, "\n\n")
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText strips tags and collapses whitespace.
func plainText(s string) string {
	helper := utils.NewStringHelper()

	return helper.NormalizeWhitespace(tagPattern.ReplaceAllString(s, " "))
}

func imageMarkdown(alt, dest string) string {
	return "![" + escapeLinkText(alt) + "](" + linkDestination(dest) + ")"
}

func htmlEscape(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

	return r.Replace(s)
}
