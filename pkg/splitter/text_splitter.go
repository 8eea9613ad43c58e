package splitter

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk sizes tuned for embedding source documents into the memory bank.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// TextSplitter wraps the langchaingo recursive character splitter.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a splitter with explicit sizes.
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// NewDefault creates a splitter with the memory bank defaults.
func NewDefault() *TextSplitter {
	return NewRecursiveCharacterTextSplitter(DefaultChunkSize, DefaultChunkOverlap)
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}
