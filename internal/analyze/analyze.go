// Package analyze computes word frequencies from extracted page text.
package analyze

import (
	"strings"
	"unicode"
)

// Token length bounds. Single letters and absurdly long runs are noise,
// not vocabulary.
const (
	DefaultMinWordLength = 2
	DefaultMaxWordLength = 45
)

// Analysis is the word-frequency outcome for one page.
type Analysis struct {
	// Frequencies maps each counted word to its occurrence count.
	Frequencies map[string]int
	// TotalWords is the number of counted tokens, including repeats.
	TotalWords int
	// UniqueWords is the number of distinct counted words.
	UniqueWords int
}

// Analyzer tokenizes text and counts words. Analysis is deterministic:
// the same text always produces the same frequencies.
type Analyzer struct {
	minLength int
	maxLength int
	maxWords  int
	stopWords map[string]struct{}
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLengthBounds overrides the accepted token length range.
func WithLengthBounds(minLen, maxLen int) Option {
	return func(a *Analyzer) {
		a.minLength = minLen
		a.maxLength = maxLen
	}
}

// WithMaxWords caps the number of tokens counted per page. Zero means
// unlimited.
func WithMaxWords(n int) Option {
	return func(a *Analyzer) { a.maxWords = n }
}

// WithStopWords replaces the default stop word set.
func WithStopWords(words []string) Option {
	return func(a *Analyzer) {
		a.stopWords = make(map[string]struct{}, len(words))
		for _, w := range words {
			a.stopWords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// New creates an Analyzer with the default English stop words.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		minLength: DefaultMinWordLength,
		maxLength: DefaultMaxWordLength,
		stopWords: defaultStopWords,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze tokenizes text on non-letter, non-digit boundaries, lowercases
// each token, and counts those that pass the length and stop word
// filters.
func (a *Analyzer) Analyze(text string) *Analysis {
	analysis := &Analysis{Frequencies: make(map[string]int)}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, token := range tokens {
		if a.maxWords > 0 && analysis.TotalWords >= a.maxWords {
			break
		}

		word := strings.ToLower(token)
		if length := len([]rune(word)); length < a.minLength || length > a.maxLength {
			continue
		}
		if _, stop := a.stopWords[word]; stop {
			continue
		}

		analysis.Frequencies[word]++
		analysis.TotalWords++
	}

	analysis.UniqueWords = len(analysis.Frequencies)
	return analysis
}
