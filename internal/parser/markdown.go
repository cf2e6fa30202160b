package parser

import (
	"regexp"
	"strings"
)

// Markdown-to-markup patterns. Bold before italic so `**` pairs are not eaten
// as two `*` pairs.
var (
	boldRE   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRE = regexp.MustCompile(`\*([^*\n]+)\*`)
)

// RenderMarkup applies the fixed transform the widget expects: **bold** to
// <strong>, *italic* to <em>, double newline to a paragraph break, single
// newline to a line break. Plain single-line text passes through unchanged.
func RenderMarkup(s string) string {
	s = boldRE.ReplaceAllString(s, "<strong>$1</strong>")
	s = italicRE.ReplaceAllString(s, "<em>$1</em>")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n\n", "<br><br>")
	s = strings.ReplaceAll(s, "\n", "<br>")
	return s
}
