package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// words builds a text of n single-token words.
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("abcd ", n))
}

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestEstimateTokenizer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Token
	}{
		{"single short word", "abcd", []Token{{0, 4}}},
		{"long word split", "hello", []Token{{0, 4}, {4, 5}}},
		{"whitespace joins next token", "abcd efgh", []Token{{0, 4}, {4, 9}}},
		{"punctuation", "Hi, there!", []Token{{0, 2}, {2, 3}, {3, 8}, {8, 9}, {9, 10}}},
		{"leading and trailing space", "  ab  ", []Token{{0, 6}}},
		{"only whitespace", " \n\t ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewEstimateTokenizer().Tokenize(tt.text))
		})
	}
}

func TestEstimateTokenizer_CountsLiteralWords(t *testing.T) {
	tok := NewEstimateTokenizer()
	assert.Len(t, tok.Tokenize(words(500)), 500)
	assert.Len(t, tok.Tokenize(words(5000)), 5000)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 512, cfg.Size)
	assert.Equal(t, 50, cfg.Overlap)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero size", Config{Size: 0, Overlap: 0}},
		{"negative overlap", Config{Size: 10, Overlap: -1}},
		{"overlap equals size", Config{Size: 10, Overlap: 10}},
		{"overlap exceeds size", Config{Size: 10, Overlap: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestExpectedChunks(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		tokens int
		want   int
	}{
		{0, 0},
		{1, 1},
		{500, 1},
		{512, 1},
		{513, 2},
		{2000, 5},
		{5000, 11},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpectedChunks(tt.tokens, cfg), "tokens=%d", tt.tokens)
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	text := words(500)

	chunks, err := c.Split(text)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 500, chunks[0].TokenCount)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, utf8.RuneCountInString(text), chunks[0].EndChar)
}

func TestSplit_ChunkCounts(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	for _, n := range []int{513, 2000, 5000} {
		chunks, err := c.Split(words(n))
		require.NoError(t, err)
		assert.Len(t, chunks, ExpectedChunks(n, DefaultConfig()), "tokens=%d", n)
	}

	chunks, err := c.Split(words(5000))
	require.NoError(t, err)
	assert.Len(t, chunks, 11)
	assert.Equal(t, 512, chunks[0].TokenCount)
	assert.Equal(t, 380, chunks[10].TokenCount)
}

func TestSplit_IndicesContiguous(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	chunks, err := c.Split(words(2000))

	require.NoError(t, err)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, chunk.TokenCount, 512)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	text := words(3000)

	first, err := c.Split(text)
	require.NoError(t, err)
	second, err := c.Split(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSplit_CoversTextWithOverlap(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	text := words(5000)

	chunks, err := c.Split(text)
	require.NoError(t, err)

	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].EndChar)
	for i := 1; i < len(chunks); i++ {
		// every chunk starts inside the previous one
		assert.Less(t, chunks[i].StartChar, chunks[i-1].EndChar)
		assert.Greater(t, chunks[i].StartChar, chunks[i-1].StartChar)
	}

	// overlap is exactly 50 tokens of 5 bytes each, minus the leading space
	assert.Equal(t, 2309, chunks[1].StartChar)
	assert.Equal(t, 2559, chunks[0].EndChar)
}

func TestSplit_NoOverlap(t *testing.T) {
	c := newTestChunker(t, Config{Size: 10, Overlap: 0})
	text := words(25)

	chunks, err := c.Split(text)

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, chunks[0].TokenCount)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 5, chunks[2].TokenCount)
	assert.Equal(t, chunks[0].EndChar, chunks[1].StartChar)
	assert.Equal(t, text, chunks[0].Text+chunks[1].Text+chunks[2].Text)
}

func TestSplit_RuneOffsets(t *testing.T) {
	c := newTestChunker(t, Config{Size: 2, Overlap: 1})

	chunks, err := c.Split("héllo wörld")

	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "héllo", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 5, chunks[0].EndChar)

	assert.Equal(t, "o wörl", chunks[1].Text)
	assert.Equal(t, 4, chunks[1].StartChar)
	assert.Equal(t, 10, chunks[1].EndChar)

	assert.Equal(t, " wörld", chunks[2].Text)
	assert.Equal(t, 5, chunks[2].StartChar)
	assert.Equal(t, 11, chunks[2].EndChar)
}

func TestSplit_EmptyText(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	_, err := c.Split("   \n ")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCountTokens(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	assert.Equal(t, 1200, c.CountTokens(words(1200)))
}
