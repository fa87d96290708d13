package domain

import (
	"fmt"
	"time"
)

// IngestionStatus is the lifecycle state of a document. It only moves
// forward; re-ingestion resets it to StatusPending explicitly.
type IngestionStatus string

const (
	StatusPending   IngestionStatus = "pending"
	StatusChunking  IngestionStatus = "chunking"
	StatusEmbedding IngestionStatus = "embedding"
	StatusIndexed   IngestionStatus = "indexed"
	StatusFailed    IngestionStatus = "failed"
)

// Terminal reports whether no ingestion run is active for this status.
func (s IngestionStatus) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

type Document struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	SourcePath  string          `json:"source_path,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	Status      IngestionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	ChunkCount  int             `json:"chunk_count"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Chunk is the unit of retrieval: a bounded span of one document's text.
// Immutable once created; removed together with its document.
type Chunk struct {
	ID          string
	DocID       string
	Ordinal     int
	Text        string
	StartOffset int
	EndOffset   int
}

// ChunkID builds the composite chunk key from document id and ordinal.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", docID, ordinal)
}

type RetrievalResult struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Ordinal int     `json:"ordinal"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// Context is the budget-bounded selection of retrieval results handed to
// the answer generator. Empty Snippets is a valid state meaning no
// grounding was available.
type Context struct {
	Query     string
	Budget    int
	UsedChars int
	Snippets  []Snippet
}

type Snippet struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

type Stats struct {
	Documents      int                     `json:"documents"`
	ByStatus       map[IngestionStatus]int `json:"by_status"`
	IndexedVectors int                     `json:"indexed_vectors"`
}
