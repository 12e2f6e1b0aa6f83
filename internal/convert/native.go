package convert

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// lineBreak marks a <br> while inline text is assembled; whitespace collapsing
// must not eat it.
const lineBreak = "\u2028"

// Native converts HTML by walking the x/net/html node tree directly.
type Native struct{}

// NewNative creates the built-in engine.
func NewNative() *Native {
	return &Native{}
}

// Name identifies the engine in logs.
func (n *Native) Name() string {
	return "native"
}

// Convert renders html as CommonMark with GitHub tables.
func (n *Native) Convert(src string) (string, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	body := findElement(root, atom.Body)
	if body == nil {
		body = root
	}

	return cleanup(renderBlocks(body, "\n\n")), nil
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Main: true, atom.Aside: true,
	atom.Nav: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Ul: true, atom.Ol: true, atom.Pre: true,
	atom.Blockquote: true, atom.Table: true, atom.Hr: true, atom.Figure: true,
	atom.Figcaption: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Details: true, atom.Summary: true, atom.Center: true, atom.Address: true,
	atom.Fieldset: true, atom.Form: true, atom.Li: true,
}

func isBlock(n *html.Node) bool {
	return n.Type == html.ElementNode && blockElements[n.DataAtom]
}

// renderBlocks renders the children of n as a sequence of blocks joined by sep.
// Runs of inline children between blocks become paragraphs.
func renderBlocks(n *html.Node, sep string) string {
	var (
		blocks []string
		run    strings.Builder
	)

	flush := func() {
		if p := finishInline(run.String()); p != "" {
			blocks = append(blocks, p)
		}

		run.Reset()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !isBlock(c) {
			run.WriteString(renderInline(c))
			continue
		}

		flush()

		if b := renderBlock(c, sep); strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}

	flush()

	return strings.Join(blocks, sep)
}

func renderBlock(n *html.Node, sep string) string {
	switch n.DataAtom {
	case atom.P, atom.Dd, atom.Figcaption, atom.Summary, atom.Address:
		return renderBlocks(n, sep)
	case atom.Dt:
		if text := finishInline(inlineChildren(n)); text != "" {
			return "**" + text + "**"
		}

		return ""
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		text := strings.ReplaceAll(finishInline(inlineChildren(n)), "  \n", " ")

		if text == "" {
			return ""
		}

		return strings.Repeat("#", level) + " " + text
	case atom.Ul:
		return renderList(n, false)
	case atom.Ol:
		return renderList(n, true)
	case atom.Pre:
		return renderPre(n)
	case atom.Blockquote:
		return quote(renderBlocks(n, "\n\n"))
	case atom.Table:
		return renderTable(n)
	case atom.Hr:
		return "---"
	case atom.Li:
		// A stray <li> outside a list.
		return "- " + indentFollowing(renderBlocks(n, "\n"), "  ")
	default:
		return renderBlocks(n, sep)
	}
}

func renderList(n *html.Node, ordered bool) string {
	number := 1
	if v, err := strconv.Atoi(attr(n, "start")); err == nil {
		number = v
	}

	var items []string

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
				items = append(items, "- "+finishInline(renderInline(c)))
			}

			continue
		}

		switch c.DataAtom {
		case atom.Li:
			marker := "- "
			if ordered {
				marker = strconv.Itoa(number) + ". "
				number++
			}

			content := renderBlocks(c, "\n")
			items = append(items, marker+indentFollowing(content, strings.Repeat(" ", len(marker))))
		case atom.Ul, atom.Ol:
			// A list nested directly in a list belongs to the previous item.
			nested := renderList(c, c.DataAtom == atom.Ol)
			if len(items) == 0 {
				items = append(items, nested)
				continue
			}

			items[len(items)-1] += "\n" + indentAll(nested, "  ")
		default:
			if text := strings.TrimSpace(renderBlock(c, "\n")); text != "" {
				items = append(items, "- "+indentFollowing(text, "  "))
			}
		}
	}

	return strings.Join(items, "\n")
}

func renderPre(n *html.Node) string {
	code := n
	lang := language(n)

	if c := firstElementChild(n); c != nil && c.DataAtom == atom.Code {
		code = c
		if lang == "" {
			lang = language(c)
		}
	}

	text := strings.TrimRight(textContent(code), "\n")
	text = strings.TrimLeft(text, "\n")

	fence := strings.Repeat("`", max(3, longestRun(text, '`')+1))

	return fence + lang + "\n" + text + "\n" + fence
}

func language(n *html.Node) string {
	if v := strings.TrimSpace(attr(n, "data-language")); v != "" {
		return v
	}

	for _, class := range strings.Fields(attr(n, "class")) {
		for _, prefix := range []string{"language-", "lang-"} {
			if lang, ok := strings.CutPrefix(class, prefix); ok && lang != "" {
				return lang
			}
		}
	}

	return ""
}

func renderTable(n *html.Node) string {
	var (
		rows      [][]string
		hasHeader bool
		spans     bool
	)

	for _, tr := range tableRows(n) {
		var row []string

		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
				continue
			}

			if span(c, "colspan") > 1 || span(c, "rowspan") > 1 || findElement(c, atom.Table) != nil {
				spans = true
			}

			if c.DataAtom == atom.Th && len(rows) == 0 {
				hasHeader = true
			}

			row = append(row, renderCell(c))
		}

		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return ""
	}

	if spans {
		// Spans cannot be expressed as a pipe table; keep the markup.
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err == nil {
			return buf.String()
		}
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	if !hasHeader {
		// Pipe tables need a header row; an empty one keeps the data intact.
		rows = append([][]string{make([]string, width)}, rows...)
	}

	lines := make([]string, 0, len(rows)+1)
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}

		lines = append(lines, "| "+strings.Join(row, " | ")+" |")

		if i == 0 {
			sep := make([]string, width)
			for j := range sep {
				sep[j] = "---"
			}

			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}

	return strings.Join(lines, "\n")
}

// tableRows returns the rows of n without descending into nested tables.
func tableRows(n *html.Node) []*html.Node {
	var rows []*html.Node

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}

		switch c.DataAtom {
		case atom.Tr:
			rows = append(rows, c)
		case atom.Thead, atom.Tbody, atom.Tfoot:
			rows = append(rows, tableRows(c)...)
		}
	}

	return rows
}

func renderCell(n *html.Node) string {
	text := renderBlocks(n, " ")
	text = strings.ReplaceAll(text, "  \n", "<br>")
	text = strings.ReplaceAll(text, "\n", " ")

	return escapePipes(strings.TrimSpace(text))
}

func escapePipes(s string) string {
	var b strings.Builder

	backslashes := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '|' && backslashes%2 == 0 {
			b.WriteByte('\\')
		}

		if s[i] == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

func renderInline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return escapeText(n.Data)
	case html.ElementNode:
	default:
		return ""
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template:
		return ""
	case atom.Br:
		return lineBreak
	case atom.Strong, atom.B:
		return wrap(inlineChildren(n), "**")
	case atom.Em, atom.I:
		return wrap(inlineChildren(n), "*")
	case atom.Del, atom.S, atom.Strike:
		return wrap(inlineChildren(n), "~~")
	case atom.Code, atom.Kbd, atom.Samp:
		return codeSpan(textContent(n))
	case atom.A:
		return renderLink(n)
	case atom.Img:
		src := attr(n, "src")
		if src == "" {
			return ""
		}

		return imageMarkdown(attr(n, "alt"), src)
	}

	if isBlock(n) {
		return " " + inlineChildren(n) + " "
	}

	return inlineChildren(n)
}

func inlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(renderInline(c))
	}

	return b.String()
}

func renderLink(n *html.Node) string {
	text := strings.TrimSpace(collapse(inlineChildren(n)))
	href := strings.TrimSpace(attr(n, "href"))

	switch {
	case href == "":
		return text
	case text == "":
		text = escapeLinkText(href)
	}

	return "[" + text + "](" + linkDestination(href) + ")"
}

// wrap surrounds s with marker while keeping the outer whitespace outside.
func wrap(s, marker string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == lineBreak {
		return s
	}

	lead := s[:len(s)-len(strings.TrimLeft(s, " \t\n"))]
	trail := s[len(strings.TrimRight(s, " \t\n")):]

	return lead + marker + trimmed + marker + trail
}

func codeSpan(s string) string {
	s = collapse(s)
	if s == "" {
		return ""
	}

	ticks := strings.Repeat("`", longestRun(s, '`')+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		s = " " + s + " "
	}

	return ticks + s + ticks
}

func linkDestination(dest string) string {
	if strings.ContainsAny(dest, " ()<>") {
		r := strings.NewReplacer("<", "%3C", ">", "%3E")

		return "<" + r.Replace(dest) + ">"
	}

	return dest
}

func escapeLinkText(s string) string {
	r := strings.NewReplacer("[", `\[`, "]", `\]`)

	return r.Replace(s)
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "~", `\~`,
	"<", "&lt;", ">", "&gt;",
)

// escapeText keeps text, including decoded entities, from turning into markup.
func escapeText(s string) string {
	return textEscaper.Replace(s)
}

var orderedMarker = regexp.MustCompile(`^[0-9]{1,9}([.)])(\s|$)`)

// escapeLineStart keeps a line of text from opening a heading, list, quote or
// setext underline.
func escapeLineStart(s string) string {
	if s == "" {
		return s
	}

	switch s[0] {
	case '#', '-', '+', '>', '=':
		return `\` + s
	}

	if m := orderedMarker.FindStringSubmatchIndex(s); m != nil {
		return s[:m[2]] + `\` + s[m[2]:]
	}

	return s
}

// finishInline collapses whitespace in an inline run and turns line break marks
// into hard breaks.
func finishInline(s string) string {
	parts := strings.Split(s, lineBreak)
	for i, p := range parts {
		parts[i] = escapeLineStart(collapse(p))
	}

	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	for len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}

	return strings.Join(parts, "  \n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
			continue
		}

		lines[i] = "> " + line
	}

	return strings.Join(lines, "\n")
}

// indentFollowing indents every line but the first.
func indentFollowing(s, indent string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = indent + lines[i]
		}
	}

	return strings.Join(lines, "\n")
}

func indentAll(s, indent string) string {
	return indent + indentFollowing(s, indent)
}

var multiBlank = strings.NewReplacer("\n\n\n\n", "\n\n", "\n\n\n", "\n\n")

func cleanup(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = multiBlank.Replace(s)
	}

	return strings.TrimSpace(s) + "\n"
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}

	if n.Type == html.ElementNode && n.DataAtom == atom.Br {
		return "\n"
	}

	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}

	return b.String()
}

func longestRun(s string, r byte) int {
	best, cur := 0, 0

	for i := 0; i < len(s); i++ {
		if s[i] != r {
			cur = 0
			continue
		}

		cur++
		best = max(best, cur)
	}

	return best
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func span(n *html.Node, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(attr(n, key)))
	if err != nil {
		return 1
	}

	return v
}

func firstElementChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}

	return nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}

		if found := findElement(c, a); found != nil {
			return found
		}
	}

	return nil
}
