package port

import "docintel/internal/domain"

// DocumentStore persists document lifecycle state and chunk text.
type DocumentStore interface {
	PutDocument(doc domain.Document) error

	GetDocument(id string) (domain.Document, error)

	// GetDocumentByPath looks a document up by its source path, so
	// re-syncing a directory reuses stable document ids.
	GetDocumentByPath(path string) (domain.Document, error)

	ListDocuments() ([]domain.Document, error)

	DeleteDocument(id string) error

	PutChunks(docID string, chunks []domain.Chunk) error

	GetChunk(id string) (domain.Chunk, error)

	GetChunksByDoc(docID string) ([]domain.Chunk, error)

	DeleteChunksByDoc(docID string) error

	Close() error
}
