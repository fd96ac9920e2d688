// Package preprocess turns raw student text into the normalized token string that is embedded
// for grading.
package preprocess

import (
	"errors"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidText indicates the input is not valid UTF-8.
var ErrInvalidText = errors.New("text is not valid utf-8")

// Normalizer lowercases, strips markup and punctuation, and drops stopwords.
// A Normalizer is safe for concurrent use.
type Normalizer struct {
	sanitizer *bluemonday.Policy
	stopwords map[string]struct{}
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithoutStopwords keeps every token.
func WithoutStopwords() Option {
	return func(n *Normalizer) { n.stopwords = map[string]struct{}{} }
}

// WithStopwords adds words to the stopword list.
func WithStopwords(words ...string) Option {
	return func(n *Normalizer) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				n.stopwords[w] = struct{}{}
			}
		}
	}
}

// New builds a Normalizer with the English stopword list.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		sanitizer: bluemonday.StrictPolicy(),
		stopwords: defaultStopwords(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the cleaned form of raw. Empty or markup-only input yields "".
func (n *Normalizer) Normalize(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", ErrInvalidText
	}

	text := html.UnescapeString(n.sanitizer.Sanitize(raw))

	// cases.Caser is stateful, so each call builds its own chain.
	chain := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	folded, _, err := transform.String(chain, text)
	if err != nil {
		return "", err
	}

	letters := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return ' '
	}, folded)

	tokens := strings.Fields(letters)
	kept := tokens[:0]
	for _, token := range tokens {
		if _, stop := n.stopwords[token]; stop {
			continue
		}
		kept = append(kept, token)
	}

	return strings.Join(kept, " "), nil
}

// IsStopword reports whether the word is dropped by Normalize.
func (n *Normalizer) IsStopword(word string) bool {
	_, ok := n.stopwords[strings.ToLower(strings.TrimSpace(word))]
	return ok
}
