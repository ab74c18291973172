// Package chunker splits extracted text into word-bounded chunks.
package chunker

import (
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// DefaultChunkSize is the default number of words per chunk.
const DefaultChunkSize = 300

// Chunker groups whitespace-delimited words into fixed-size chunks.
// It holds no state between calls.
type Chunker struct {
	size int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum number of words per chunk.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the configured words per chunk.
func (c *Chunker) Size() int {
	return c.size
}

// Chunk splits text into chunks attributed to one document.
// Sequence numbers start at zero and follow source order.
func (c *Chunker) Chunk(ref domain.FileRef, text string) []domain.Chunk {
	parts := Split(text, c.size)
	if len(parts) == 0 {
		return nil
	}

	chunks := make([]domain.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = domain.Chunk{
			OwnerID:    ref.OwnerID,
			SourceName: ref.SourceName,
			Sequence:   i,
			Text:       part,
		}
	}
	return chunks
}

// Split regroups the words of text into segments of at most size words,
// joined by single spaces. The final segment may be shorter. Text with no
// words yields nil. A non-positive size falls back to DefaultChunkSize.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	segments := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		segments = append(segments, strings.Join(words[start:end], " "))
	}
	return segments
}
