package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StringHelper provides string utility functions.
type StringHelper struct{}

// NewStringHelper creates a new string helper.
func NewStringHelper() *StringHelper {
	return &StringHelper{}
}

// NormalizeWhitespace replaces runs of whitespace with a single space and trims the ends.
func (s *StringHelper) NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// TruncateRunes cuts str to at most maxRunes runes without splitting a character.
func (s *StringHelper) TruncateRunes(str string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(str) <= maxRunes {
		return str
	}

	runes := []rune(str)

	return string(runes[:maxRunes])
}

// TruncateBytes cuts str to at most maxBytes bytes, backing off to a rune boundary.
func (s *StringHelper) TruncateBytes(str string, maxBytes int) string {
	if maxBytes <= 0 || len(str) <= maxBytes {
		return str
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}

	return str[:cut]
}

// ReplaceFunc maps every rune for which bad returns true to repl.
func (s *StringHelper) ReplaceFunc(str string, bad func(rune) bool, repl rune) string {
	return strings.Map(func(r rune) rune {
		if bad(r) {
			return repl
		}

		return r
	}, str)
}

// IsControl reports whether r is a control character, including tabs and newlines.
func IsControl(r rune) bool {
	return unicode.IsControl(r)
}
