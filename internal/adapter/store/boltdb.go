// Package store persists document lifecycle state and chunk text in bbolt.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"docintel/internal/domain"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketDocChunks = []byte("doc_chunks")
	bucketPaths     = []byte("paths")
)

type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and ensures all buckets
// exist.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketPaths}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// DB exposes the underlying handle so the vector index can share the file.
func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

type docRow struct {
	Name        string `json:"name"`
	SourcePath  string `json:"source_path,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ChunkCount  int    `json:"chunk_count"`
	SubmittedAt int64  `json:"submitted_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type chunkRow struct {
	DocID       string `json:"doc_id"`
	Ordinal     int    `json:"ordinal"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

func toRow(doc domain.Document) docRow {
	return docRow{
		Name:        doc.Name,
		SourcePath:  doc.SourcePath,
		ContentHash: doc.ContentHash,
		Status:      string(doc.Status),
		Error:       doc.Error,
		ChunkCount:  doc.ChunkCount,
		SubmittedAt: doc.SubmittedAt.Unix(),
		UpdatedAt:   doc.UpdatedAt.Unix(),
	}
}

func fromRow(id string, row docRow) domain.Document {
	return domain.Document{
		ID:          id,
		Name:        row.Name,
		SourcePath:  row.SourcePath,
		ContentHash: row.ContentHash,
		Status:      domain.IngestionStatus(row.Status),
		Error:       row.Error,
		ChunkCount:  row.ChunkCount,
		SubmittedAt: time.Unix(row.SubmittedAt, 0),
		UpdatedAt:   time.Unix(row.UpdatedAt, 0),
	}
}

func (s *BoltStore) PutDocument(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(toRow(doc))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}
		if doc.SourcePath != "" {
			return tx.Bucket(bucketPaths).Put([]byte(doc.SourcePath), []byte(doc.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetDocument(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
		}
		var row docRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		doc = fromRow(id, row)
		return nil
	})
	return doc, err
}

func (s *BoltStore) GetDocumentByPath(path string) (domain.Document, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPaths).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("%w: document at %s", domain.ErrNotFound, path)
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	return s.GetDocument(id)
}

func (s *BoltStore) ListDocuments() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var row docRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			docs = append(docs, fromRow(string(k), row))
			return nil
		})
	})
	return docs, err
}

func (s *BoltStore) DeleteDocument(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
		}
		var row docRow
		if err := json.Unmarshal(data, &row); err == nil && row.SourcePath != "" {
			if err := tx.Bucket(bucketPaths).Delete([]byte(row.SourcePath)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
}

// PutChunks stores a document's chunks in one transaction, replacing any
// previous set.
func (s *BoltStore) PutChunks(docID string, chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteChunksTx(tx, docID); err != nil {
			return err
		}

		chunkBucket := tx.Bucket(bucketChunks)
		blobBucket := tx.Bucket(bucketBlobs)
		chunkIDs := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			row := chunkRow{
				DocID:       chunk.DocID,
				Ordinal:     chunk.Ordinal,
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
			}
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := chunkBucket.Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			if err := blobBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, chunk.ID)
		}

		idsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocChunks).Put([]byte(docID), idsData)
	})
}

func (s *BoltStore) GetChunk(id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: chunk %s", domain.ErrNotFound, id)
		}
		var row chunkRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		text := tx.Bucket(bucketBlobs).Get([]byte(id))
		chunk = domain.Chunk{
			ID:          id,
			DocID:       row.DocID,
			Ordinal:     row.Ordinal,
			Text:        string(text),
			StartOffset: row.StartOffset,
			EndOffset:   row.EndOffset,
		}
		return nil
	})
	return chunk, err
}

func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var chunkIDs []string
		if err := json.Unmarshal(data, &chunkIDs); err != nil {
			return err
		}
		chunkBucket := tx.Bucket(bucketChunks)
		blobBucket := tx.Bucket(bucketBlobs)
		for _, id := range chunkIDs {
			data := chunkBucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var row chunkRow
			if err := json.Unmarshal(data, &row); err != nil {
				continue
			}
			text := blobBucket.Get([]byte(id))
			chunks = append(chunks, domain.Chunk{
				ID:          id,
				DocID:       row.DocID,
				Ordinal:     row.Ordinal,
				Text:        string(text),
				StartOffset: row.StartOffset,
				EndOffset:   row.EndOffset,
			})
		}
		return nil
	})
	return chunks, err
}

func (s *BoltStore) DeleteChunksByDoc(docID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteChunksTx(tx, docID)
	})
}

func deleteChunksTx(tx *bbolt.Tx, docID string) error {
	data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil
	}
	var chunkIDs []string
	if err := json.Unmarshal(data, &chunkIDs); err != nil {
		return err
	}
	chunkBucket := tx.Bucket(bucketChunks)
	blobBucket := tx.Bucket(bucketBlobs)
	for _, id := range chunkIDs {
		if err := chunkBucket.Delete([]byte(id)); err != nil {
			return err
		}
		if err := blobBucket.Delete([]byte(id)); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketDocChunks).Delete([]byte(docID))
}

// RecoverInterrupted marks documents left in a non-terminal state by a
// previous process as failed. Their staged vectors were memory-only, so
// nothing is searchable for them; re-ingestion restarts them cleanly.
func (s *BoltStore) RecoverInterrupted() ([]string, error) {
	var recovered []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocs)

		// Collect first: the bucket must not be mutated mid-iteration.
		stuck := make(map[string]docRow)
		err := b.ForEach(func(k, v []byte) error {
			var row docRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if !domain.IngestionStatus(row.Status).Terminal() {
				stuck[string(k)] = row
			}
			return nil
		})
		if err != nil {
			return err
		}

		for id, row := range stuck {
			row.Status = string(domain.StatusFailed)
			row.Error = "ingestion interrupted by restart"
			row.UpdatedAt = time.Now().Unix()
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
			recovered = append(recovered, id)
		}
		return nil
	})
	return recovered, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
