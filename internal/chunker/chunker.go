// Package chunker splits document text into token-bounded, overlapping chunks.
package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// Config configures the chunker.
type Config struct {
	// Size is the maximum tokens per chunk
	Size int

	// Overlap is the number of tokens each chunk repeats from the previous one
	Overlap int
}

// DefaultConfig returns the defaults used by the embedding pipeline.
func DefaultConfig() Config {
	return Config{
		Size:    512,
		Overlap: 50,
	}
}

// Validate checks that 0 <= Overlap < Size.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidInput, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrInvalidInput, c.Size, c.Overlap)
	}
	return nil
}

// ExpectedChunks returns the number of chunks Split emits for a text of the
// given token count: 1 when it fits, otherwise 1 + ceil((T-Size)/(Size-Overlap)).
func ExpectedChunks(tokens int, c Config) int {
	if tokens <= 0 {
		return 0
	}
	if tokens <= c.Size {
		return 1
	}
	stride := c.Size - c.Overlap
	return 1 + (tokens-c.Size+stride-1)/stride
}

// Chunker splits text into overlapping chunks. It is stateless and safe for
// concurrent use.
type Chunker struct {
	config    Config
	tokenizer Tokenizer
}

// New creates a chunker. A nil tokenizer selects the estimate tokenizer.
func New(config Config, tokenizer Tokenizer) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tokenizer = NewEstimateTokenizer()
	}
	return &Chunker{config: config, tokenizer: tokenizer}, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// CountTokens returns the token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Tokenize(text))
}

// Split cuts text into chunks. Chunk k covers tokens
// [k*(Size-Overlap), k*(Size-Overlap)+Size), so consecutive chunks share
// Overlap tokens. Indices start at 0 and are contiguous.
func (c *Chunker) Split(text string) ([]domain.Chunk, error) {
	tokens := c.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no text to chunk", domain.ErrInvalidInput)
	}

	stride := c.config.Size - c.config.Overlap
	chunks := make([]domain.Chunk, 0, ExpectedChunks(len(tokens), c.config))

	for start := 0; ; start += stride {
		end := min(start+c.config.Size, len(tokens))
		byteStart := tokens[start].Start
		byteEnd := tokens[end-1].End

		chunks = append(chunks, domain.Chunk{
			Index:      len(chunks),
			Text:       text[byteStart:byteEnd],
			TokenCount: end - start,
			StartChar:  utf8.RuneCountInString(text[:byteStart]),
			EndChar:    utf8.RuneCountInString(text[:byteEnd]),
		})

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}
