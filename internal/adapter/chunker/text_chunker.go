package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"docintel/internal/domain"
	"docintel/internal/port"
)

// TextChunker splits document text into bounded chunks, preferring natural
// boundaries: paragraph break, then sentence end, then whitespace, falling
// back to a hard cut. Sizes are bytes; cuts never split a UTF-8 rune.
type TextChunker struct {
	maxSize int
	overlap int
}

// NewTextChunker validates the chunking parameters. Overlap repeats the
// trailing bytes of each chunk at the start of the next and must be
// strictly smaller than maxSize.
func NewTextChunker(maxSize, overlap int) (*TextChunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", domain.ErrInvalidInput, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidInput, maxSize, overlap)
	}
	return &TextChunker{maxSize: maxSize, overlap: overlap}, nil
}

// Chunk returns a lazy iterator over the chunks of text. Non-empty input
// always produces at least one chunk.
func (c *TextChunker) Chunk(docID, text string) (port.ChunkIterator, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", domain.ErrInvalidInput)
	}
	return &textIterator{chunker: c, docID: docID, text: text}, nil
}

// ChunkAll drains the iterator. Convenience for callers that want the whole
// sequence up front.
func ChunkAll(it port.ChunkIterator) []domain.Chunk {
	var chunks []domain.Chunk
	for {
		chunk, ok := it.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

type textIterator struct {
	chunker *TextChunker
	docID   string
	text    string
	start   int // start of the next chunk, overlap included
	prevEnd int // end of the previously emitted chunk
	ordinal int
	done    bool
}

func (it *textIterator) Next() (domain.Chunk, bool) {
	if it.done {
		return domain.Chunk{}, false
	}

	start := it.start
	end := it.cutEnd(start)

	chunk := domain.Chunk{
		ID:          domain.ChunkID(it.docID, it.ordinal),
		DocID:       it.docID,
		Ordinal:     it.ordinal,
		Text:        it.text[start:end],
		StartOffset: start,
		EndOffset:   end,
	}
	it.ordinal++

	if end >= len(it.text) {
		it.done = true
		return chunk, true
	}

	// The next chunk starts overlap bytes before end, but always strictly
	// after this chunk's start and never past end, so no byte is skipped
	// and the cursor advances. Forward rune alignment only shrinks the
	// overlap, it cannot move the start beyond end.
	next := end - it.chunker.overlap
	if next <= start {
		next = start + 1
	}
	for next < end && !utf8.RuneStart(it.text[next]) {
		next++
	}
	it.prevEnd = end
	it.start = next
	return chunk, true
}

// cutEnd picks the end of the chunk starting at start. The cut always lands
// strictly past start, so no chunk is empty and iteration terminates.
func (it *textIterator) cutEnd(start int) int {
	limit := start + it.chunker.maxSize
	if limit >= len(it.text) {
		return len(it.text)
	}
	cut := limit
	for cut > start && !utf8.RuneStart(it.text[cut]) {
		cut--
	}
	if cut == start {
		// A single rune wider than maxSize; truncate mid-rune rather
		// than skip it.
		return limit
	}

	// minEnd is exclusive: any boundary used must lie strictly past both
	// the previous chunk's end and this chunk's start.
	minEnd := it.prevEnd
	if minEnd < start {
		minEnd = start
	}
	if p := lastParagraphEnd(it.text, minEnd, cut); p > 0 {
		return p
	}
	if p := lastSentenceEnd(it.text, minEnd, cut); p > 0 {
		return p
	}
	if p := lastWhitespace(it.text, minEnd, cut); p > 0 {
		return p
	}
	return cut
}

// lastParagraphEnd finds the latest cut position in (min, limit] sitting
// just after a blank-line separator.
func lastParagraphEnd(text string, min, limit int) int {
	for p := limit; p > min; p-- {
		if p >= 2 && text[p-2] == '\n' && text[p-1] == '\n' {
			return p
		}
	}
	return 0
}

// lastSentenceEnd finds the latest cut position in (min, limit] just after
// sentence-ending punctuation.
func lastSentenceEnd(text string, min, limit int) int {
	for p := limit; p > min; p-- {
		c := text[p-1]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if p == len(text) {
			return p
		}
		if next, _ := utf8.DecodeRuneInString(text[p:]); unicode.IsSpace(next) {
			return p
		}
	}
	return 0
}

// lastWhitespace finds the latest cut position in (min, limit] just after a
// whitespace rune.
func lastWhitespace(text string, min, limit int) int {
	for p := limit; p > min; p-- {
		r, size := utf8.DecodeLastRuneInString(text[:p])
		if size > 0 && unicode.IsSpace(r) {
			return p
		}
	}
	return 0
}
