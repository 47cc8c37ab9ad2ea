package chunker

import (
	"unicode"
	"unicode/utf8"
)

// Token is a byte span of the source text.
// Spans produced by a Tokenizer are contiguous and cover the whole text.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into model tokens.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// DefaultMaxRunesPerToken approximates BPE tokenizers (~4 characters per token).
const DefaultMaxRunesPerToken = 4

// EstimateTokenizer approximates subword tokenization without a vocabulary.
// Letter and digit runs are cut every MaxRunesPerToken runes, every other
// non-space rune is its own token, and whitespace is folded into the token
// that follows it.
type EstimateTokenizer struct {
	MaxRunesPerToken int
}

var _ Tokenizer = EstimateTokenizer{}

// NewEstimateTokenizer returns the default estimator.
func NewEstimateTokenizer() EstimateTokenizer {
	return EstimateTokenizer{MaxRunesPerToken: DefaultMaxRunesPerToken}
}

// Tokenize implements Tokenizer.
func (e EstimateTokenizer) Tokenize(text string) []Token {
	maxRunes := e.MaxRunesPerToken
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunesPerToken
	}

	var tokens []Token
	prevEnd := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		end := i + size
		if isWordRune(r) {
			n := 1
			for end < len(text) && n < maxRunes {
				next, nextSize := utf8.DecodeRuneInString(text[end:])
				if !isWordRune(next) {
					break
				}
				end += nextSize
				n++
			}
		}

		tokens = append(tokens, Token{Start: prevEnd, End: end})
		prevEnd = end
		i = end
	}

	// Trailing whitespace belongs to the last token
	if len(tokens) > 0 {
		tokens[len(tokens)-1].End = len(text)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
