package analyze_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/webwords/internal/analyze"
)

func TestAnalyzeCountsWords(t *testing.T) {
	t.Parallel()

	a := analyze.New()
	got := a.Analyze("Hello world, hello!")

	assert.Equal(t, map[string]int{"hello": 2, "world": 1}, got.Frequencies)
	assert.Equal(t, 3, got.TotalWords)
	assert.Equal(t, 2, got.UniqueWords)
}

func TestAnalyzeStopWords(t *testing.T) {
	t.Parallel()

	a := analyze.New()
	got := a.Analyze("the quick brown fox and the lazy dog")

	assert.NotContains(t, got.Frequencies, "the")
	assert.NotContains(t, got.Frequencies, "and")
	assert.Equal(t, 1, got.Frequencies["quick"])
	assert.Equal(t, 1, got.Frequencies["fox"])
}

func TestAnalyzeLengthBounds(t *testing.T) {
	t.Parallel()

	a := analyze.New(analyze.WithLengthBounds(3, 5))
	got := a.Analyze("go gopher golang programming")

	assert.NotContains(t, got.Frequencies, "go", "below minimum length")
	assert.NotContains(t, got.Frequencies, "programming", "above maximum length")
	assert.Contains(t, got.Frequencies, "golang")
}

func TestAnalyzeMaxWordsCap(t *testing.T) {
	t.Parallel()

	a := analyze.New(analyze.WithMaxWords(3), analyze.WithStopWords(nil))
	got := a.Analyze("one two three four five")

	assert.Equal(t, 3, got.TotalWords)
}

func TestAnalyzeUnicode(t *testing.T) {
	t.Parallel()

	a := analyze.New()
	got := a.Analyze("Caffè résumé naïve — caffè")

	assert.Equal(t, 2, got.Frequencies["caffè"])
	assert.Equal(t, 1, got.Frequencies["résumé"])
	assert.Equal(t, 1, got.Frequencies["naïve"])
}

func TestAnalyzeSplitsOnPunctuationAndDigitBoundaries(t *testing.T) {
	t.Parallel()

	a := analyze.New(analyze.WithStopWords(nil))
	got := a.Analyze("état-major v2 foo_bar 3.14")

	assert.Equal(t, 1, got.Frequencies["état"])
	assert.Equal(t, 1, got.Frequencies["major"])
	assert.Equal(t, 1, got.Frequencies["v2"])
	assert.Equal(t, 1, got.Frequencies["foo"])
	assert.Equal(t, 1, got.Frequencies["bar"])
	assert.Equal(t, 1, got.Frequencies["14"])
}

func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()

	a := analyze.New()
	text := "alpha beta gamma alpha delta beta alpha"

	first := a.Analyze(text)
	second := a.Analyze(text)

	assert.Equal(t, first.Frequencies, second.Frequencies)
	assert.Equal(t, first.TotalWords, second.TotalWords)
	assert.Equal(t, first.UniqueWords, second.UniqueWords)
}

func TestAnalyzeEmptyText(t *testing.T) {
	t.Parallel()

	a := analyze.New()
	got := a.Analyze("")

	assert.Empty(t, got.Frequencies)
	assert.Zero(t, got.TotalWords)
	assert.Zero(t, got.UniqueWords)
}
