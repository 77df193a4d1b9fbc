// Package tokenizer provides text tokenisation for the index and query paths.
// It lower-cases input and splits on runs of non-alphanumeric runes. Both
// paths must use this package so that query terms match indexed terms.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term, the field it occurred in and its
// position among the tokens emitted for that field value.
type Token struct {
	Field    string
	Term     string
	Position int
}

// Tokenize breaks text into lowercased Tokens attributed to field. Positions
// are consecutive starting at zero.
func Tokenize(text string, field string) []Token {
	words := split(text)
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, Token{
			Field:    field,
			Term:     word,
			Position: i,
		})
	}
	return tokens
}

// Terms returns only the normalised term strings of text, in order.
func Terms(text string) []string {
	return split(text)
}

func split(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
