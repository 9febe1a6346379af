package topics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_StripsAndDedupes(t *testing.T) {
	cleaned, tags := Extract("hello #a #b world #a")
	assert.Equal(t, "hello world", cleaned)
	assert.Equal(t, []string{"a", "b"}, tags)
}

func TestExtract_PreservesParagraphs(t *testing.T) {
	cleaned, tags := Extract("line one #x\n\n\n  line   two #y\nend")
	assert.Equal(t, "line one\n\nline two\nend", cleaned)
	assert.Equal(t, []string{"x", "y"}, tags)
}

func TestExtract_NoTags(t *testing.T) {
	cleaned, tags := Extract("plain text")
	assert.Equal(t, "plain text", cleaned)
	assert.Empty(t, tags)
}

func TestMerge_ExplicitFirst(t *testing.T) {
	cleaned, got := Merge("hello #a #b world #a", []string{"b", "travel"})
	assert.Equal(t, "hello world", cleaned)
	assert.Equal(t, []string{"b", "travel", "a"}, got)

	_, got = Merge("x #A #a", "a, #c")
	assert.Equal(t, []string{"a", "c", "A"}, got, "dedup is case-sensitive")
}

func TestMerge_Idempotent(t *testing.T) {
	cleaned, first := Merge("morning run #fitness #health done #fitness", []string{"sport"})
	again, second := Merge(cleaned, first)
	assert.Equal(t, cleaned, again)
	assert.Equal(t, first, second)

	_, extracted := Extract(cleaned)
	assert.Empty(t, extracted)
}

func TestMerge_Caps(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, "#t%d ", i)
	}
	_, got := Merge(b.String(), nil)
	assert.Len(t, got, MaxTopics)
	assert.Equal(t, "t0", got[0])

	long := strings.Repeat("长", MaxTopicRunes+5)
	_, got = Merge("", []string{long})
	assert.Equal(t, []string{strings.Repeat("长", MaxTopicRunes)}, got)
}

func TestMerge_NoTopicsIsValid(t *testing.T) {
	cleaned, got := Merge("nothing to tag", nil)
	assert.Equal(t, "nothing to tag", cleaned)
	assert.Empty(t, got)

	_, got = Merge("text", "[]")
	assert.Empty(t, got, "malformed explicit topics contribute nothing")
}
