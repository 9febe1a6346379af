// Package topics extracts #tags from note text and merges them with
// explicitly requested topics.
package topics

import (
	"regexp"
	"strings"

	"github.com/copyleftdev/postscry/internal/mediaref"
)

const (
	// MaxTopics is the number of topics the platform accepts on one note.
	MaxTopics = 10
	// MaxTopicRunes caps the length of a single topic.
	MaxTopicRunes = 20
)

var (
	tagPattern      = regexp.MustCompile(`#(\S+)`)
	horizontalSpace = regexp.MustCompile(`[^\S\n]+`)
	blankLines      = regexp.MustCompile(`\n\s*\n`)
)

// Limits bounds the merged topic list.
type Limits struct {
	MaxCount int
	MaxRunes int
}

// DefaultLimits matches the platform constraints.
var DefaultLimits = Limits{MaxCount: MaxTopics, MaxRunes: MaxTopicRunes}

// Extract removes every #tag from text and returns the cleaned text along with
// the tags in first-occurrence order, de-duplicated.
func Extract(text string) (string, []string) {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tidy(tagPattern.ReplaceAllString(text, "")), dedupe(tags)
}

// Merge returns text with its tags stripped and the final topic list: explicit
// topics first, then extracted ones, de-duplicated case-sensitively and capped
// by DefaultLimits. explicit may be a comma string or a sequence.
func Merge(text string, explicit any) (string, []string) {
	return MergeWithLimits(text, explicit, DefaultLimits)
}

// MergeWithLimits is Merge with caller supplied limits.
func MergeWithLimits(text string, explicit any, limits Limits) (string, []string) {
	cleaned, extracted := Extract(text)

	var requested []string
	// Explicit topics arrive as loosely as media references do. A malformed
	// value contributes nothing rather than failing the note.
	if list, err := mediaref.Normalize(explicit); err == nil {
		for _, t := range list {
			requested = append(requested, strings.TrimPrefix(t, "#"))
		}
	}

	merged := dedupe(append(requested, extracted...))
	return cleaned, capList(merged, limits)
}

func tidy(text string) string {
	text = blankLines.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func capList(items []string, limits Limits) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if limits.MaxRunes > 0 {
			if r := []rune(item); len(r) > limits.MaxRunes {
				item = string(r[:limits.MaxRunes])
			}
		}
		// truncation can make two topics equal
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if limits.MaxCount > 0 && len(out) == limits.MaxCount {
			break
		}
	}
	return out
}
