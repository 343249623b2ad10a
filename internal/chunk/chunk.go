// Package chunk splits raw document text into overlapping fixed-size windows
// for embedding and retrieval.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates an unusable size/overlap combination.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Splitter produces overlapping chunks of at most Size runes each, with
// consecutive chunks sharing exactly Overlap runes. Chunk boundaries prefer
// to land on a paragraph break, then a line break, then a space, falling back
// to a hard character cut.
//
// Splitter is a pure value; it is safe for concurrent use.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter returns a Splitter for the given chunk size and overlap.
// Overlap must be smaller than size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidConfig, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split splits text into ordered chunks. Each chunk holds at most the
// configured size, consecutive chunks overlap by exactly the configured
// amount, and concatenating the first chunk with every following chunk's
// post-overlap suffix reconstructs the input. Whitespace-only input yields
// no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string

	start := 0
	for {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}

		end = s.breakBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end - s.overlap
	}
}

// breakBoundary moves end backwards to the best break point in the window.
// The break must stay past start+overlap so every chunk makes progress
// beyond the shared prefix; otherwise the hard cut stands.
func (s *Splitter) breakBoundary(runes []rune, start, end int) int {
	floor := start + s.overlap + 1
	if floor >= end {
		return end
	}

	// Paragraph break: cut after the blank line.
	for i := end - 1; i > floor; i-- {
		if runes[i-1] == '\n' && runes[i] == '\n' {
			return i + 1
		}
	}
	// Line break.
	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	// Word break.
	for i := end - 1; i >= floor; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}
