// Package index implements the vector index: brute-force exact cosine
// search over an in-memory entry set, persisted in bbolt.
//
// Visibility is document-atomic. Upsert stages entries in memory under
// their document; Publish moves a document's staged entries into the
// searchable set and persists them in a single transaction. Searches hold
// the read lock, so they see all of a document's entries or none. Staged
// entries are deliberately not persisted: a crash before publish loses
// them, and the owning document never reached the indexed state.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"docintel/internal/domain"
	"docintel/internal/port"
)

var bucketVectors = []byte("vectors")

type BoltIndex struct {
	db        *bbolt.DB
	dimension int

	mu        sync.RWMutex
	published map[string]entry
	byDoc     map[string]map[string]struct{}
	staged    map[string]map[string]entry
	gen       uint64
}

type entry struct {
	docID   string
	ordinal int
	vector  []float32
}

type storedEntry struct {
	DocID   string    `json:"doc_id"`
	Ordinal int       `json:"ordinal"`
	Vector  []float32 `json:"vector"`
}

// NewBoltIndex opens the vectors bucket and loads published entries into
// memory.
func NewBoltIndex(db *bbolt.DB, dimension int) (*BoltIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create vectors bucket: %v", domain.ErrIndexUnavailable, err)
	}

	idx := &BoltIndex{
		db:        db,
		dimension: dimension,
		published: make(map[string]entry),
		byDoc:     make(map[string]map[string]struct{}),
		staged:    make(map[string]map[string]entry),
	}
	if err := idx.load(); err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to load vectors: %v", domain.ErrIndexUnavailable, err)
	}
	return idx, nil
}

func (idx *BoltIndex) load() error {
	return idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedEntry
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // skip corrupted entries
			}
			// A width change means the embedding model changed across
			// restarts; refuse to serve the stale vectors.
			if len(stored.Vector) != idx.dimension {
				return fmt.Errorf("%w: stored vector for chunk %s has dimension %d, index expects %d (re-ingest after changing the embedding model)",
					domain.ErrDimensionMismatch, string(k), len(stored.Vector), idx.dimension)
			}
			id := string(k)
			idx.published[id] = entry{docID: stored.DocID, ordinal: stored.Ordinal, vector: stored.Vector}
			idx.addToDoc(stored.DocID, id)
			return nil
		})
	})
}

func (idx *BoltIndex) addToDoc(docID, chunkID string) {
	ids, ok := idx.byDoc[docID]
	if !ok {
		ids = make(map[string]struct{})
		idx.byDoc[docID] = ids
	}
	ids[chunkID] = struct{}{}
}

// Upsert stages entries under their document. Re-staging an existing chunk
// id replaces the previous entry.
func (idx *BoltIndex) Upsert(entries []port.Entry) error {
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

// Publish persists the document's staged entries and makes them searchable
// in one atomic step. A storage failure leaves both the staged set and the
// published set untouched.
func (idx *BoltIndex) Publish(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	staged := idx.staged[docID]
	if len(staged) == 0 {
		return nil
	}

	err := idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return fmt.Errorf("vectors bucket not found")
		}
		for chunkID, e := range staged {
			data, err := json.Marshal(storedEntry{DocID: e.docID, Ordinal: e.ordinal, Vector: e.vector})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(chunkID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: publish failed for document %s: %v", domain.ErrIndexUnavailable, docID, err)
	}

	for chunkID, e := range staged {
		idx.published[chunkID] = e
		idx.addToDoc(docID, chunkID)
	}
	delete(idx.staged, docID)
	idx.gen++
	return nil
}

// Search returns the k nearest published entries by cosine similarity.
func (idx *BoltIndex) Search(query []float32, k int, filter *port.SearchFilter) ([]port.Match, error) {
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

// DeleteByDocument removes the document's staged and published entries.
// Atomic with respect to concurrent Search: a search sees all of the
// document's entries or none of them.
func (idx *BoltIndex) DeleteByDocument(docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := idx.byDoc[docID]
	if len(ids) > 0 {
		err := idx.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketVectors)
			if b == nil {
				return nil
			}
			for chunkID := range ids {
				if err := b.Delete([]byte(chunkID)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: delete failed for document %s: %v", domain.ErrIndexUnavailable, docID, err)
		}
		for chunkID := range ids {
			delete(idx.published, chunkID)
		}
		delete(idx.byDoc, docID)
		idx.gen++
	}

	delete(idx.staged, docID)
	return nil
}

// Size returns the number of published entries.
func (idx *BoltIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.published)
}

// Generation increments on every publish and delete.
func (idx *BoltIndex) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.gen
}

// Close is a no-op: the bbolt handle is shared with the document store and
// closed by its owner.
func (idx *BoltIndex) Close() error {
	return nil
}

// rankMatches orders by descending score with deterministic tie-breaks:
// document id, then chunk ordinal.
func rankMatches(matches []port.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].DocID != matches[j].DocID {
			return matches[i].DocID < matches[j].DocID
		}
		return matches[i].Ordinal < matches[j].Ordinal
	})
}

// cosineSimilarity computes cosine similarity between two vectors of equal
// length.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
