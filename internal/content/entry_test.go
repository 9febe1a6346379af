package content

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/postscry/internal/apperr"
)

func TestParseEntries_SingleObjectWithAliases(t *testing.T) {
	raw := `{
		"fengmian": "c.jpg",
		"neirongtu": "[b1.jpg, b2.jpg]",
		"jiewei": ["e.jpg"],
		"wenan": "  morning light  ",
		"topics": "#travel, coffee"
	}`
	entries, err := ParseEntries([]byte(raw))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "morning light", e.Content)
	assert.Equal(t, []string{"c.jpg"}, e.Refs[SlotCover])
	assert.Equal(t, []string{"b1.jpg", "b2.jpg"}, e.Refs[SlotBody])
	assert.Equal(t, []string{"e.jpg"}, e.Refs[SlotClosing])
	assert.Equal(t, []string{"travel", "coffee"}, e.Topics)
}

func TestParseEntries_ArrayAndRepair(t *testing.T) {
	// trailing comma and single quotes
	raw := `[{'content': 'one', 'cover': 'a.jpg',}, {"content": "two", "title": "T"}]`
	entries, err := ParseEntries([]byte(raw))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Content)
	assert.Equal(t, []string{"a.jpg"}, entries[0].Refs[SlotCover])
	assert.Equal(t, "T", entries[1].Title)
	assert.Zero(t, entries[1].Refs.Count())
}

func TestParseEntries_Invalid(t *testing.T) {
	_, err := ParseEntries([]byte("   "))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ParseEntries([]byte(`[1, 2]`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ParseEntries([]byte(`"just a string"`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("Cover-After")
	require.NoError(t, err)
	assert.Equal(t, SlotCoverAfter, s)

	s, err = ParseSlot("")
	require.NoError(t, err)
	assert.Equal(t, SlotBody, s)

	_, err = ParseSlot("banner")
	assert.Error(t, err)
}
