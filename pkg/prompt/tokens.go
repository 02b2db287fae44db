// Package prompt selects which part of a conversation fits in a model's
// context window and assembles the final completion prompt.
package prompt

import (
	"math"
	"unicode/utf8"
)

// TokenCounter estimates how many model tokens a piece of text costs.
type TokenCounter interface {
	CountTokens(text string) int
}

// CounterFunc adapts a plain function to TokenCounter.
type CounterFunc func(text string) int

func (f CounterFunc) CountTokens(text string) int { return f(text) }

// DefaultCharsPerToken is the rough ratio for English text on common
// BPE vocabularies.
const DefaultCharsPerToken = 4.0

// HeuristicCounter estimates tokens from the rune count. It is deterministic
// and needs no model server, which makes it the default for the console and tests.
type HeuristicCounter struct {
	CharsPerToken float64
}

func (h HeuristicCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	cpt := h.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / cpt))
}
