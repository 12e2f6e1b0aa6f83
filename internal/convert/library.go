package convert

import (
	"bytes"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Library delegates conversion to html-to-markdown.
type Library struct {
	conv *converter.Converter
}

// NewLibrary creates the html-to-markdown engine with table support. Tables
// with merged cells or nested tables are kept as HTML, as the native engine does.
func NewLibrary() *Library {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithNewlineBehavior(table.NewlineBehaviorPreserve),
			),
			strikethrough.NewStrikethroughPlugin(),
		),
	)
	conv.Register.Renderer(renderSpannedTable, converter.PriorityEarly)

	return &Library{conv: conv}
}

// Name identifies the engine in logs.
func (l *Library) Name() string {
	return "library"
}

// Convert renders html with the library's CommonMark and table rules.
func (l *Library) Convert(src string) (string, error) {
	md, err := l.conv.ConvertString(src)
	if err != nil {
		return "", fmt.Errorf("html-to-markdown: %w", err)
	}

	return md, nil
}

func renderSpannedTable(_ converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	if n.Type != html.ElementNode || n.DataAtom != atom.Table || !spannedTable(n) {
		return converter.RenderTryNext
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return converter.RenderTryNext
	}

	_, _ = w.WriteString("\n\n")
	_, _ = w.Write(buf.Bytes())
	_, _ = w.WriteString("\n\n")

	return converter.RenderSuccess
}

// spannedTable reports whether t has a cell spanning several rows or columns,
// or a table nested in a cell.
func spannedTable(t *html.Node) bool {
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}

		switch c.DataAtom {
		case atom.Table:
			return true
		case atom.Td, atom.Th:
			if span(c, "colspan") > 1 || span(c, "rowspan") > 1 {
				return true
			}
		}

		if spannedTable(c) {
			return true
		}
	}

	return false
}
