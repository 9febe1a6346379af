package mediaref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/postscry/internal/apperr"
)

func TestNormalize_EquivalentEncodings(t *testing.T) {
	want := []string{"a.jpg", "b.jpg"}

	inputs := []any{
		"a.jpg,b.jpg",
		"a.jpg, b.jpg",
		"[a.jpg,b.jpg]",
		`["a.jpg","b.jpg"]`,
		`['a.jpg','b.jpg']`,
		`['a.jpg', "b.jpg"]`,
		`[ "a.jpg" , 'b.jpg' ]`,
		[]string{"a.jpg", " b.jpg "},
		[]any{"a.jpg", "b.jpg"},
	}

	for _, in := range inputs {
		got, err := Normalize(in)
		require.NoError(t, err, "input %v", in)
		assert.Equal(t, want, got, "input %v", in)
	}
}

func TestNormalize_SingleAndEmpty(t *testing.T) {
	got, err := Normalize("/tmp/cover.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/cover.png"}, got)

	got, err = Normalize(`"/tmp/cover.png"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/cover.png"}, got)

	for _, in := range []any{nil, "", "   ", []string{}, []string{"", " "}} {
		got, err := Normalize(in)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestNormalize_URLsSurviveEveryStrategy(t *testing.T) {
	want := []string{"https://cdn.example.com/a.jpg?x=1", "/data/b.png"}

	for _, in := range []string{
		`["https://cdn.example.com/a.jpg?x=1","/data/b.png"]`,
		`['https://cdn.example.com/a.jpg?x=1', '/data/b.png']`,
		`[https://cdn.example.com/a.jpg?x=1, /data/b.png]`,
		`https://cdn.example.com/a.jpg?x=1,/data/b.png`,
	} {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalize_DropsEmptyTokens(t *testing.T) {
	got, err := Normalize("a.jpg,,  ,b.jpg,")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got)

	got, err = Normalize(`["a.jpg", "", null, "b.jpg"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got)
}

func TestNormalize_InvalidFormat(t *testing.T) {
	for _, in := range []string{"[]", "[,,]", `['', ""]`, ",,,"} {
		_, err := Normalize(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, apperr.ErrInvalidFormat, in)
	}

	_, err := Normalize(42)
	assert.ErrorIs(t, err, apperr.ErrInvalidFormat)
}

func TestStrategies_AreIndependent(t *testing.T) {
	assert.Nil(t, ParseJSON("a.jpg,b.jpg"))
	assert.Equal(t, []string{"a", "b"}, ParseJSON(`["a","b"]`))

	assert.Nil(t, ParseLenient("[a,b]"), "unquoted lists are left to the splitter")
	assert.Equal(t, []string{"a", "b"}, ParseLenient(`['a', "b"]`))

	assert.Equal(t, []string{"a", "b"}, SplitDelimited(`['a', "b"]`))
	assert.Equal(t, []string{"x"}, SplitDelimited("x"))
}
