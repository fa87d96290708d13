package port

// VectorIndex stores chunk embeddings and supports similarity search.
//
// Entries are written in two phases: Upsert stages them under their
// document, Publish makes every staged entry for a document searchable in
// one atomic step. Search never observes a document's entries partially:
// publish and delete are all-or-none with respect to concurrent searches.
type VectorIndex interface {
	// Upsert stages entries for later publication. Idempotent: re-staging
	// an existing chunk id replaces the previous entry.
	Upsert(entries []Entry) error

	// Publish atomically moves a document's staged entries into the
	// searchable set and persists them.
	Publish(docID string) error

	// Search returns the k nearest published entries by cosine similarity,
	// ordered by descending score; ties break by document id, then chunk
	// ordinal. A nil filter searches everything.
	Search(query []float32, k int, filter *SearchFilter) ([]Match, error)

	// DeleteByDocument removes all staged and published entries for the
	// document, atomically with respect to concurrent Search.
	DeleteByDocument(docID string) error

	// Size returns the number of published entries.
	Size() int

	// Generation increments on every publish or delete. Cached query
	// results from an older generation are stale.
	Generation() uint64

	Close() error
}

// Entry is one (chunk, vector) pair held by the index.
type Entry struct {
	ChunkID string
	DocID   string
	Ordinal int
	Vector  []float32
}

// Match is one search hit.
type Match struct {
	ChunkID string
	DocID   string
	Ordinal int
	Score   float64
}

// SearchFilter restricts a search to a single document.
type SearchFilter struct {
	DocID string
}
