package publish

import (
	"strings"
	"unicode/utf8"
)

// BrowserSafe replaces characters outside the Basic Multilingual Plane
// (emoji and the like) with spaces, since ChromeDriver key input cannot type
// them, then collapses horizontal whitespace on each line. Line breaks survive.
func BrowserSafe(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r > 0xFFFF || r == utf8.RuneError {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}

	lines := strings.Split(strings.ReplaceAll(sb.String(), "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
