package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.etcd.io/bbolt"

	"docintel/internal/domain"
	"docintel/internal/port"
)

const testDim = 4

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "index.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Both index implementations must satisfy the same contract.
func forEachIndex(t *testing.T, fn func(t *testing.T, idx port.VectorIndex)) {
	t.Run("bolt", func(t *testing.T) {
		idx, err := NewBoltIndex(openTestDB(t), testDim)
		if err != nil {
			t.Fatal(err)
		}
		fn(t, idx)
	})
	t.Run("memory", func(t *testing.T) {
		idx, err := NewMemoryIndex(testDim)
		if err != nil {
			t.Fatal(err)
		}
		fn(t, idx)
	})
}

func vec(values ...float32) []float32 {
	v := make([]float32, testDim)
	copy(v, values)
	return v
}

func docEntries(docID string, vectors ...[]float32) []port.Entry {
	entries := make([]port.Entry, len(vectors))
	for i, v := range vectors {
		entries[i] = port.Entry{
			ChunkID: domain.ChunkID(docID, i),
			DocID:   docID,
			Ordinal: i,
			Vector:  v,
		}
	}
	return entries
}

func TestIndexDimensionMismatch(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		err := idx.Upsert([]port.Entry{{ChunkID: "d#0", DocID: "d", Vector: []float32{1, 2}}})
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			t.Errorf("upsert: expected ErrDimensionMismatch, got %v", err)
		}

		_, err = idx.Search([]float32{1}, 3, nil)
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			t.Errorf("search: expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestIndexEmptySearch(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		matches, err := idx.Search(vec(1), 5, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 0 {
			t.Errorf("expected no matches, got %d", len(matches))
		}
	})
}

func TestIndexStagedEntriesInvisible(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		if err := idx.Upsert(docEntries("doc1", vec(1), vec(0, 1))); err != nil {
			t.Fatal(err)
		}

		matches, err := idx.Search(vec(1), 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 0 {
			t.Fatalf("staged entries visible before publish: %d matches", len(matches))
		}
		if idx.Size() != 0 {
			t.Errorf("size = %d before publish", idx.Size())
		}

		if err := idx.Publish("doc1"); err != nil {
			t.Fatal(err)
		}

		matches, err = idx.Search(vec(1), 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 2 {
			t.Errorf("expected 2 matches after publish, got %d", len(matches))
		}
		if idx.Size() != 2 {
			t.Errorf("size = %d after publish", idx.Size())
		}
	})
}

func TestIndexUpsertIdempotent(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		entries := docEntries("doc1", vec(1))
		if err := idx.Upsert(entries); err != nil {
			t.Fatal(err)
		}
		if err := idx.Upsert(entries); err != nil {
			t.Fatal(err)
		}
		if err := idx.Publish("doc1"); err != nil {
			t.Fatal(err)
		}
		if idx.Size() != 1 {
			t.Errorf("re-staging the same chunk grew the index to %d", idx.Size())
		}
	})
}

func TestIndexSearchOrderingAndTies(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		// Ordinals 1 and 2 carry identical vectors, so they tie on score
		// and must come back in ordinal order.
		entries := docEntries("doc1", vec(1, 1), vec(1), vec(1))
		if err := idx.Upsert(entries); err != nil {
			t.Fatal(err)
		}
		if err := idx.Publish("doc1"); err != nil {
			t.Fatal(err)
		}

		for run := 0; run < 5; run++ {
			matches, err := idx.Search(vec(1), 3, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(matches) != 3 {
				t.Fatalf("expected 3 matches, got %d", len(matches))
			}
			if matches[0].Ordinal != 1 || matches[1].Ordinal != 2 {
				t.Errorf("run %d: tie not broken by ordinal: %d, %d", run, matches[0].Ordinal, matches[1].Ordinal)
			}
			if matches[2].Ordinal != 0 {
				t.Errorf("run %d: lowest-scoring chunk not last", run)
			}
			if matches[0].Score < matches[1].Score || matches[1].Score < matches[2].Score {
				t.Errorf("run %d: scores not descending", run)
			}
		}
	})
}

func TestIndexSearchFilter(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		for _, docID := range []string{"doc1", "doc2"} {
			if err := idx.Upsert(docEntries(docID, vec(1), vec(0, 1))); err != nil {
				t.Fatal(err)
			}
			if err := idx.Publish(docID); err != nil {
				t.Fatal(err)
			}
		}

		matches, err := idx.Search(vec(1), 10, &port.SearchFilter{DocID: "doc2"})
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range matches {
			if m.DocID != "doc2" {
				t.Errorf("filter leaked entry from %s", m.DocID)
			}
		}
		if len(matches) != 2 {
			t.Errorf("expected 2 filtered matches, got %d", len(matches))
		}
	})
}

func TestIndexDeleteByDocument(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		for _, docID := range []string{"doc1", "doc2"} {
			if err := idx.Upsert(docEntries(docID, vec(1), vec(0, 1), vec(0, 0, 1))); err != nil {
				t.Fatal(err)
			}
			if err := idx.Publish(docID); err != nil {
				t.Fatal(err)
			}
		}
		gen := idx.Generation()

		if err := idx.DeleteByDocument("doc1"); err != nil {
			t.Fatal(err)
		}

		matches, err := idx.Search(vec(1), 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range matches {
			if m.DocID == "doc1" {
				t.Error("deleted document still searchable")
			}
		}
		if idx.Size() != 3 {
			t.Errorf("size = %d after delete, want 3", idx.Size())
		}
		if idx.Generation() == gen {
			t.Error("generation did not advance on delete")
		}
	})
}

// Concurrent searches during publish and delete must observe each
// document's entries all-or-none, never a partial subset.
func TestIndexDeleteAtomicUnderConcurrentSearch(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		const perDoc = 8
		vectors := make([][]float32, perDoc)
		for i := range vectors {
			vectors[i] = vec(1, float32(i))
		}
		if err := idx.Upsert(docEntries("victim", vectors...)); err != nil {
			t.Fatal(err)
		}
		if err := idx.Publish("victim"); err != nil {
			t.Fatal(err)
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					matches, err := idx.Search(vec(1), 100, nil)
					if err != nil {
						t.Errorf("search failed: %v", err)
						return
					}
					seen := 0
					for _, m := range matches {
						if m.DocID == "victim" {
							seen++
						}
					}
					if seen != 0 && seen != perDoc {
						t.Errorf("partial visibility: saw %d of %d entries", seen, perDoc)
						return
					}
				}
			}()
		}

		for i := 0; i < 20; i++ {
			if err := idx.DeleteByDocument("victim"); err != nil {
				t.Fatal(err)
			}
			if err := idx.Upsert(docEntries("victim", vectors...)); err != nil {
				t.Fatal(err)
			}
			if err := idx.Publish("victim"); err != nil {
				t.Fatal(err)
			}
		}
		if err := idx.DeleteByDocument("victim"); err != nil {
			t.Fatal(err)
		}
		close(stop)
		wg.Wait()

		matches, err := idx.Search(vec(1), 100, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 0 {
			t.Errorf("expected empty index after final delete, got %d", len(matches))
		}
	})
}

func TestBoltIndexPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := NewBoltIndex(db, testDim)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(docEntries("doc1", vec(1), vec(0, 1))); err != nil {
		t.Fatal(err)
	}
	if err := idx.Publish("doc1"); err != nil {
		t.Fatal(err)
	}
	// Staged but never published: must not survive restart.
	if err := idx.Upsert(docEntries("doc2", vec(0, 0, 1))); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	reopened, err := NewBoltIndex(db, testDim)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != 2 {
		t.Errorf("size after reopen = %d, want 2", reopened.Size())
	}
	matches, err := reopened.Search(vec(1), 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.DocID == "doc2" {
			t.Error("unpublished staging survived restart")
		}
	}
}

// Reopening a persisted index under a different embedding dimension must
// be refused up front, not crash the first search.
func TestBoltIndexReopenDimensionChange(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := NewBoltIndex(db, testDim)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(docEntries("doc1", vec(1))); err != nil {
		t.Fatal(err)
	}
	if err := idx.Publish("doc1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	_, err = NewBoltIndex(db, testDim*2)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch on reopen, got %v", err)
	}
}

func TestIndexRepeatedSearchStable(t *testing.T) {
	forEachIndex(t, func(t *testing.T, idx port.VectorIndex) {
		for d := 0; d < 3; d++ {
			docID := fmt.Sprintf("doc%d", d)
			if err := idx.Upsert(docEntries(docID, vec(1, float32(d)), vec(float32(d), 1))); err != nil {
				t.Fatal(err)
			}
			if err := idx.Publish(docID); err != nil {
				t.Fatal(err)
			}
		}

		first, err := idx.Search(vec(1, 1), 6, nil)
		if err != nil {
			t.Fatal(err)
		}
		for run := 0; run < 10; run++ {
			again, err := idx.Search(vec(1, 1), 6, nil)
			if err != nil {
				t.Fatal(err)
			}
			for i := range first {
				if again[i].ChunkID != first[i].ChunkID {
					t.Fatalf("run %d: ordering changed at position %d", run, i)
				}
			}
		}
	})
}
