package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-rag/scribe/internal/model"
)

// wordCounter counts one token per word, making chunk boundaries exact.
func wordCounter(s string) int {
	return len(strings.Fields(s))
}

func TestChunkEmptyInput(t *testing.T) {
	c := NewWithCounter(DefaultOptions(), EstimateTokens)

	assert.Nil(t, c.Chunk("", nil))
	assert.Nil(t, c.Chunk("   \n\t  ", nil))
}

func TestChunkSingleSmallDocument(t *testing.T) {
	c := NewWithCounter(DefaultOptions(), EstimateTokens)

	text := "RAG combines retrieval with generation."
	chunks := c.Chunk(text, nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[0].EndOffset)
	assert.Positive(t, chunks[0].TokenCount)
}

func TestChunkIndicesContiguousAndOffsetsFaithful(t *testing.T) {
	c := NewWithCounter(Options{ChunkSize: 20, ChunkOverlap: 4, MinChunkSize: 5}, wordCounter)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("word")
		b.WriteString(strings.Repeat("x", i%3))
		b.WriteString(" ")
	}
	text := b.String()

	chunks := c.Chunk(text, nil)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.NotEmpty(t, ch.Content)
		assert.Equal(t, text[ch.StartOffset:ch.EndOffset], ch.Content,
			"content must be the exact offset slice")
		if i > 0 {
			assert.Greater(t, ch.StartOffset, chunks[i-1].StartOffset,
				"chunks must make forward progress")
			assert.LessOrEqual(t, ch.StartOffset, chunks[i-1].EndOffset,
				"chunks must be contiguous or overlapping")
		}
	}
}

func TestChunkRespectsTokenBudget(t *testing.T) {
	c := NewWithCounter(Options{ChunkSize: 10, ChunkOverlap: 2, MinChunkSize: 3}, wordCounter)

	text := strings.TrimSpace(strings.Repeat("alpha ", 95))
	chunks := c.Chunk(text, nil)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, ch.TokenCount, 10)
	}
}

func TestChunkOverlapBounded(t *testing.T) {
	c := NewWithCounter(Options{ChunkSize: 10, ChunkOverlap: 3, MinChunkSize: 2}, wordCounter)

	text := strings.TrimSpace(strings.Repeat("beta ", 60))
	chunks := c.Chunk(text, nil)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].EndOffset - chunks[i].StartOffset
		if overlap > 0 {
			shared := text[chunks[i].StartOffset:chunks[i-1].EndOffset]
			assert.LessOrEqual(t, wordCounter(shared), 3)
		}
	}
}

func TestChunkMergesTrailingFragment(t *testing.T) {
	// 12 words with size 10, min 5: naive split leaves a 4-token tail that
	// must be folded into the previous chunk.
	c := NewWithCounter(Options{ChunkSize: 10, ChunkOverlap: 2, MinChunkSize: 5}, wordCounter)

	text := strings.TrimSpace(strings.Repeat("gamma ", 12))
	chunks := c.Chunk(text, nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
}

func TestChunkSectionMetadata(t *testing.T) {
	c := NewWithCounter(Options{ChunkSize: 8, ChunkOverlap: 0, MinChunkSize: 2}, wordCounter)

	intro := strings.TrimSpace(strings.Repeat("intro ", 8))
	setup := strings.TrimSpace(strings.Repeat("setup ", 8))
	text := intro + "\n" + setup
	sections := []model.Section{
		{Title: "Introduction", StartOffset: 0, EndOffset: len(intro), PageNumber: 1},
		{Title: "Setup", StartOffset: len(intro) + 1, EndOffset: len(text), PageNumber: 2},
	}

	chunks := c.Chunk(text, sections)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Introduction", chunks[0].Metadata["sectionTitle"])
	assert.Equal(t, 1, chunks[0].Metadata["pageNumber"])
	assert.Equal(t, "Setup", chunks[1].Metadata["sectionTitle"])
	assert.Equal(t, 2, chunks[1].Metadata["pageNumber"])
}

func TestChunkOversizedSingleWord(t *testing.T) {
	c := NewWithCounter(Options{ChunkSize: 4, ChunkOverlap: 1, MinChunkSize: 1}, EstimateTokens)

	text := strings.Repeat("a", 100) // 25 estimated tokens, one word
	chunks := c.Chunk(text, nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
