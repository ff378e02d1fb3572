// Package chunk splits normalized document text into overlapping,
// token-bounded chunks for embedding and retrieval.
package chunk

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/scribe-rag/scribe/internal/model"
)

// Default chunking parameters, in tokens.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
	DefaultMinChunkSize = 100
)

// Options configures the chunker. Zero fields take the defaults above.
type Options struct {
	ChunkSize    int // target tokens per chunk
	ChunkOverlap int // tokens shared between successive chunks
	MinChunkSize int // chunks below this are merged into their predecessor
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.MinChunkSize <= 0 {
		o.MinChunkSize = DefaultMinChunkSize
	}
	// Overlap must leave room for forward progress.
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 4
	}
	return o
}

// Chunker produces ordered chunks with source offsets into the input text.
type Chunker struct {
	opts    Options
	counter func(string) int
}

// New creates a chunker backed by the cl100k_base tokenizer when its
// encoding data is available, falling back to EstimateTokens otherwise.
func New(opts Options) *Chunker {
	counter := EstimateTokens
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		counter = func(s string) int { return len(enc.Encode(s, nil, nil)) }
	}
	return NewWithCounter(opts, counter)
}

// NewWithCounter creates a chunker using the supplied token counter.
func NewWithCounter(opts Options, counter func(string) int) *Chunker {
	if counter == nil {
		counter = EstimateTokens
	}
	return &Chunker{opts: opts.withDefaults(), counter: counter}
}

// EstimateTokens approximates token count as ceil(len/4), which tracks
// BPE tokenizers closely enough for Latin text.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// CountTokens returns the token count for text under the active counter.
func (c *Chunker) CountTokens(text string) int {
	return c.counter(text)
}

// word is a non-whitespace run with byte offsets into the source text.
type word struct {
	start  int
	end    int
	tokens int
}

// Chunk splits text into ordered chunks. Chunk content is always the exact
// slice text[startOffset:endOffset]. Indices are contiguous from 0.
// Successive chunks overlap by at most ChunkOverlap tokens. The final chunk
// may fall below MinChunkSize only when it is the whole document. Sections,
// when provided, contribute per-chunk metadata (sectionTitle, pageNumber,
// slideNumber, sheetName) looked up by chunk start offset.
func (c *Chunker) Chunk(text string, sections []model.Section) []model.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	words := c.splitWords(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []model.Chunk
	i := 0
	for i < len(words) {
		tokens := words[i].tokens
		j := i + 1
		for j < len(words) && tokens+words[j].tokens <= c.opts.ChunkSize {
			tokens += words[j].tokens
			j++
		}

		start := words[i].start
		end := words[j-1].end
		chunks = append(chunks, model.Chunk{
			Content:     text[start:end],
			ChunkIndex:  len(chunks),
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  tokens,
			Metadata:    sectionMetadata(sections, start, end),
		})

		if j >= len(words) {
			break
		}

		// Back up to carry ChunkOverlap tokens into the next chunk,
		// keeping at least one word of forward progress.
		back := 0
		k := j
		for k > i+1 && back+words[k-1].tokens <= c.opts.ChunkOverlap {
			k--
			back += words[k].tokens
		}
		i = k
	}

	// A trailing fragment below the minimum is folded into its predecessor.
	if n := len(chunks); n >= 2 && chunks[n-1].TokenCount < c.opts.MinChunkSize {
		prev := &chunks[n-2]
		prev.EndOffset = chunks[n-1].EndOffset
		prev.Content = text[prev.StartOffset:prev.EndOffset]
		prev.TokenCount = c.counter(prev.Content)
		chunks = chunks[:n-1]
	}

	return chunks
}

// splitWords scans text into non-whitespace runs with byte offsets.
func (c *Chunker) splitWords(text string) []word {
	var words []word
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, c.makeWord(text, start, i))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, c.makeWord(text, start, len(text)))
	}
	return words
}

func (c *Chunker) makeWord(text string, start, end int) word {
	tokens := c.counter(text[start:end])
	if tokens == 0 {
		tokens = 1
	}
	return word{start: start, end: end, tokens: tokens}
}

// sectionMetadata picks the section containing the chunk start, or the one
// with the largest overlap, and projects its fields into chunk metadata.
func sectionMetadata(sections []model.Section, start, end int) map[string]any {
	if len(sections) == 0 {
		return nil
	}

	best := -1
	bestOverlap := 0
	for i, s := range sections {
		if s.StartOffset <= start && start < s.EndOffset {
			best = i
			break
		}
		overlap := min(end, s.EndOffset) - max(start, s.StartOffset)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	s := sections[best]
	meta := make(map[string]any, 4)
	if s.Title != "" {
		meta["sectionTitle"] = s.Title
	}
	if s.PageNumber > 0 {
		meta["pageNumber"] = s.PageNumber
	}
	if s.SlideNumber > 0 {
		meta["slideNumber"] = s.SlideNumber
	}
	if s.SheetName != "" {
		meta["sheetName"] = s.SheetName
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
