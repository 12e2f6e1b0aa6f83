// Package formatter provides markdown formatting utilities.
package formatter

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// FormatMarkdown takes a raw markdown string and formats it,
// specifically focusing on aligning pipe tables by display width.
// Fenced code blocks are left untouched.
func FormatMarkdown(content string) (string, error) {
	lines := strings.Split(content, "\n")

	var formattedLines []string

	var tableBuffer []string

	fence := ""

	flush := func() {
		if len(tableBuffer) > 0 {
			formattedLines = append(formattedLines, processTable(tableBuffer)...)
			tableBuffer = nil
		}
	}

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)

		if fence != "" {
			formattedLines = append(formattedLines, line)

			if strings.HasPrefix(trimmedLine, fence) && strings.Trim(trimmedLine, fence[:1]) == "" {
				fence = ""
			}

			continue
		}

		if marker := fenceMarker(trimmedLine); marker != "" {
			flush()

			fence = marker
			formattedLines = append(formattedLines, line)

			continue
		}

		// Simple heuristic: a table row starts and ends with |
		if len(trimmedLine) > 1 && strings.HasPrefix(trimmedLine, "|") && strings.HasSuffix(trimmedLine, "|") {
			tableBuffer = append(tableBuffer, line)

			continue
		}

		flush()

		formattedLines = append(formattedLines, line)
	}

	flush()

	return strings.Join(formattedLines, "\n"), nil
}

// fenceMarker returns the run of backticks or tildes opening a code fence.
func fenceMarker(line string) string {
	for _, ch := range []string{"`", "~"} {
		n := 0
		for n < len(line) && line[n] == ch[0] {
			n++
		}

		if n >= 3 {
			return strings.Repeat(ch, n)
		}
	}

	return ""
}

func processTable(rows []string) []string {
	// A pipe table needs a header and a separator.
	if len(rows) < 2 {
		return rows
	}

	indent := rows[0][:len(rows[0])-len(strings.TrimLeft(rows[0], " \t"))]

	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		table = append(table, splitRow(strings.TrimSpace(row)))
	}

	if !isSeparator(table[1]) {
		return rows
	}

	colCount := 0
	for _, row := range table {
		colCount = max(colCount, len(row))
	}

	colWidths := make([]int, colCount)

	for rIdx, row := range table {
		if rIdx == 1 {
			continue
		}

		for i, cell := range row {
			colWidths[i] = max(colWidths[i], runewidth.StringWidth(cell))
		}
	}

	for i := range colWidths {
		colWidths[i] = max(colWidths[i], 3)
	}

	result := make([]string, 0, len(table))

	for i, row := range table {
		var sb strings.Builder

		sb.WriteString(indent)
		sb.WriteString("|")

		for j := range colCount {
			sb.WriteString(" ")

			content := ""
			if j < len(row) {
				content = row[j]
			}

			if i == 1 {
				sb.WriteString(separatorCell(content, colWidths[j]))
			} else {
				sb.WriteString(content)

				if padding := colWidths[j] - runewidth.StringWidth(content); padding > 0 {
					sb.WriteString(strings.Repeat(" ", padding))
				}
			}

			sb.WriteString(" |")
		}

		result = append(result, sb.String())
	}

	return result
}

// splitRow splits a table row on unescaped pipes.
func splitRow(row string) []string {
	row = strings.TrimPrefix(row, "|")
	if strings.HasSuffix(row, "|") && !strings.HasSuffix(row, `\|`) {
		row = row[:len(row)-1]
	}

	var (
		cells []string
		cell  strings.Builder
	)

	for i := 0; i < len(row); i++ {
		if row[i] == '\\' && i+1 < len(row) && row[i+1] == '|' {
			cell.WriteString(`\|`)
			i++

			continue
		}

		if row[i] == '|' {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()

			continue
		}

		cell.WriteByte(row[i])
	}

	return append(cells, strings.TrimSpace(cell.String()))
}

func isSeparator(cells []string) bool {
	for _, cell := range cells {
		trim := strings.Trim(cell, "-: ")
		if trim != "" || !strings.Contains(cell, "-") {
			return false
		}
	}

	return len(cells) > 0
}

// separatorCell keeps the alignment colons of the original separator.
func separatorCell(cell string, width int) string {
	left := strings.HasPrefix(cell, ":")
	right := strings.HasSuffix(cell, ":")

	dashes := width
	if left {
		dashes--
	}

	if right {
		dashes--
	}

	var sb strings.Builder
	if left {
		sb.WriteString(":")
	}

	sb.WriteString(strings.Repeat("-", max(dashes, 1)))

	if right {
		sb.WriteString(":")
	}

	return sb.String()
}
