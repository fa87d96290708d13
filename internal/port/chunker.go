package port

import "docintel/internal/domain"

// Chunker splits document text into ordered, bounded-size chunks.
type Chunker interface {
	// Chunk returns a lazy iterator over the chunks of text. The caller may
	// stop early; the sequence is deterministic for identical input.
	Chunk(docID, text string) (ChunkIterator, error)
}

// ChunkIterator yields chunks one at a time.
type ChunkIterator interface {
	// Next returns the next chunk, or ok=false when the sequence is done.
	Next() (chunk domain.Chunk, ok bool)
}
