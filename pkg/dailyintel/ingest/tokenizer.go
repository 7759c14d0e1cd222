// Package ingest segments extracted document text into draft story records
// and tags each draft with categories and named entities.
package ingest

import (
	"strings"
	"unicode"
)

// Tokenizer splits story text into lowercase word tokens.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a tokenizer that drops the given stopwords.
func NewTokenizer(stopwords []string) *Tokenizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopwords: stops}
}

// Words returns every word of text, lowercased, with no stopword filtering.
// Letters, digits, hyphens and dots inside a word ("gpt-4", "h100", "x.ai")
// stay part of it.
func (t *Tokenizer) Words(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		if w := cleanToken(current.String()); w != "" {
			words = append(words, w)
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			current.WriteRune(unicode.ToLower(r))
		case (r == '-' || r == '.') && current.Len() > 0:
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// Tokenize returns the words of text minus stopwords, single characters and
// purely numeric tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := t.Words(text)
	tokens := words[:0]
	for _, w := range words {
		if len(w) <= 1 || isNumericOnly(w) {
			continue
		}
		if _, stop := t.stopwords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// cleanToken strips trailing dots and hyphens ("model." → "model") and
// collapses runs of hyphens.
func cleanToken(token string) string {
	token = strings.Trim(token, "-.")
	for strings.Contains(token, "--") {
		token = strings.ReplaceAll(token, "--", "-")
	}
	return token
}

func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
