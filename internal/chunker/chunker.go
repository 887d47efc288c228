// Package chunker splits document text into overlapping token windows.
package chunker

import (
	"fmt"
	"strings"

	"github.com/kurosawa/tansaku/internal/models"
)

// Chunker splits text into overlapping fixed-size windows of whitespace
// tokens. Splitting is deterministic: the same input always yields the same
// chunk boundaries and the same chunk IDs.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker with the given window size and overlap, both in
// tokens. Overlap must be non-negative and strictly less than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d for size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split splits text into chunks for docID. Empty or whitespace-only text
// yields nil. Text shorter than one window yields exactly one chunk spanning
// the whole text; the final chunk may be shorter than the window.
func (c *Chunker) Split(docID, text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]models.Chunk, 0, (len(words)+step-1)/step)
	for i := 0; i < len(words); i += step {
		end := i + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: docID,
			Index:      len(chunks),
			Content:    strings.Join(words[i:end], " "),
			StartToken: i,
			EndToken:   end,
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// Size returns the configured window size in tokens.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in tokens.
func (c *Chunker) Overlap() int { return c.overlap }
