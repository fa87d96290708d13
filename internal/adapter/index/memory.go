package index

import (
	"fmt"
	"sync"

	"docintel/internal/domain"
	"docintel/internal/port"
)

// MemoryIndex is the non-persistent variant of the vector index, with the
// same staging and document-atomic visibility semantics as BoltIndex. Used
// by tests and as the "memory" storage option.
type MemoryIndex struct {
	dimension int

	mu        sync.RWMutex
	published map[string]entry
	byDoc     map[string]map[string]struct{}
	staged    map[string]map[string]entry
	gen       uint64
}

func NewMemoryIndex(dimension int) (*MemoryIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}
	return &MemoryIndex{
		dimension: dimension,
		published: make(map[string]entry),
		byDoc:     make(map[string]map[string]struct{}),
		staged:    make(map[string]map[string]entry),
	}, nil
}

func (idx *MemoryIndex) Upsert(entries []port.Entry) error {
	for _, e := range entries {
		if len(e.Vector) != idx.dimension {
			return fmt.Errorf("%w: expected %d, got %d for chunk %s",
				domain.ErrDimensionMismatch, idx.dimension, len(e.Vector), e.ChunkID)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range entries {
		doc, ok := idx.staged[e.DocID]
		if !ok {
			doc = make(map[string]entry)
			idx.staged[e.DocID] = doc
		}
		doc[e.ChunkID] = entry{docID: e.DocID, ordinal: e.Ordinal, vector: e.Vector}
	}
	return nil
}

func (idx *MemoryIndex) Publish(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	staged := idx.staged[docID]
	if len(staged) == 0 {
		return nil
	}
	for chunkID, e := range staged {
		idx.published[chunkID] = e
		ids, ok := idx.byDoc[docID]
		if !ok {
			ids = make(map[string]struct{})
			idx.byDoc[docID] = ids
		}
		ids[chunkID] = struct{}{}
	}
	delete(idx.staged, docID)
	idx.gen++
	return nil
}

func (idx *MemoryIndex) Search(query []float32, k int, filter *port.SearchFilter) ([]port.Match, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d for query",
			domain.ErrDimensionMismatch, idx.dimension, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]port.Match, 0, len(idx.published))
	for chunkID, e := range idx.published {
		if filter != nil && filter.DocID != e.docID {
			continue
		}
		matches = append(matches, port.Match{
			ChunkID: chunkID,
			DocID:   e.docID,
			Ordinal: e.ordinal,
			Score:   cosineSimilarity(query, e.vector),
		})
	}
	rankMatches(matches)

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (idx *MemoryIndex) DeleteByDocument(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if ids := idx.byDoc[docID]; len(ids) > 0 {
		for chunkID := range ids {
			delete(idx.published, chunkID)
		}
		delete(idx.byDoc, docID)
		idx.gen++
	}
	delete(idx.staged, docID)
	return nil
}

func (idx *MemoryIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.published)
}

func (idx *MemoryIndex) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.gen
}

func (idx *MemoryIndex) Close() error {
	return nil
}
