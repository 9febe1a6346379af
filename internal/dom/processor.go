// Package dom holds chromedp actions used by the browser driver and helpers
// that condense page HTML into short diagnostic text.
package dom

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "meta": true, "link": true,
	"svg": true, "template": true, "head": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"button": true, "label": true, "form": true,
}

// VisibleText returns the human-readable text of an HTML document, one line
// per block element, with scripts and styles dropped. Form controls contribute
// their placeholder or value so an empty composer still reads as something.
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := collectText(&sb, doc); err != nil {
		return "", err
	}

	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}

func collectText(w io.StringWriter, n *html.Node) error {
	switch n.Type {
	case html.ErrorNode, html.CommentNode, html.DoctypeNode:
		return nil
	case html.TextNode:
		_, err := w.WriteString(n.Data + " ")
		return err
	case html.ElementNode:
		if skippedTags[n.Data] || attr(n, "aria-hidden") == "true" {
			return nil
		}
		if n.Data == "input" || n.Data == "textarea" {
			if v := attr(n, "value"); v != "" {
				_, err := w.WriteString("[" + v + "] ")
				return err
			}
			if v := attr(n, "placeholder"); v != "" {
				_, err := w.WriteString("[" + v + "] ")
				return err
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := collectText(w, c); err != nil {
			return err
		}
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// Summarize returns at most maxRunes runes of the page's visible text, for
// error descriptors. Unparseable HTML yields an empty summary.
func Summarize(htmlContent string, maxRunes int) string {
	text, err := VisibleText(htmlContent)
	if err != nil {
		return ""
	}
	text = strings.ReplaceAll(text, "\n", " | ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxRunes]) + "..."
}
