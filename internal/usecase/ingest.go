package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docintel/internal/adapter/chunker"
	"docintel/internal/adapter/fs"
	"docintel/internal/domain"
	"docintel/internal/port"
)

// Coordinator owns the document lifecycle. It runs ingestion in a bounded
// worker pool, at most one run per document at a time; a second submission
// for an active document is rejected. Entries become searchable only when
// every chunk of the document has been embedded and the batch is published
// in one atomic step.
type Coordinator struct {
	store    port.DocumentStore
	index    port.VectorIndex
	chunker  port.Chunker
	embedder port.Embedder
	logger   *zap.Logger

	embedBatch int

	mu       sync.Mutex
	active   map[string]*run
	closed   bool
	enqueued sync.WaitGroup

	tasks     chan task
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type task struct {
	ctx   context.Context
	docID string
	text  string
}

// NewCoordinator starts workers goroutines ready to process ingestion
// runs. Call Shutdown to drain them.
func NewCoordinator(store port.DocumentStore, index port.VectorIndex, chk port.Chunker, embedder port.Embedder, logger *zap.Logger, workers, embedBatch int) *Coordinator {
	if workers <= 0 {
		workers = 4
	}
	if embedBatch <= 0 {
		embedBatch = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:      store,
		index:      index,
		chunker:    chk,
		embedder:   embedder,
		logger:     logger,
		embedBatch: embedBatch,
		active:     make(map[string]*run),
		tasks:      make(chan task, 128),
		baseCtx:    ctx,
		cancelAll:  cancel,
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case t, ok := <-c.tasks:
			if !ok {
				return
			}
			c.runIngestion(t)
		}
	}
}

// Submit registers a document and queues its ingestion. The caller gets an
// immediate acknowledgment with the document id; progress is observed via
// Status. A document whose source path matches an existing one keeps its
// id (directory re-sync), and is rejected while a run for it is active.
func (c *Coordinator) Submit(name, sourcePath, contentHash string, text string) (domain.Document, error) {
	doc, t, err := func() (domain.Document, task, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return domain.Document{}, task{}, fmt.Errorf("coordinator is shut down")
		}

		docID := ""
		if sourcePath != "" {
			if existing, err := c.store.GetDocumentByPath(sourcePath); err == nil {
				docID = existing.ID
			}
		}
		if docID == "" {
			docID = uuid.NewString()
		}

		if _, running := c.active[docID]; running {
			return domain.Document{}, task{}, fmt.Errorf("%w: document %s", domain.ErrAlreadyInProgress, docID)
		}

		now := time.Now()
		doc := domain.Document{
			ID:          docID,
			Name:        name,
			SourcePath:  sourcePath,
			ContentHash: contentHash,
			Status:      domain.StatusPending,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		if err := c.store.PutDocument(doc); err != nil {
			return domain.Document{}, task{}, fmt.Errorf("failed to store document: %w", err)
		}
		return doc, c.registerLocked(docID, text), nil
	}()
	if err != nil {
		return domain.Document{}, err
	}
	c.tasks <- t
	c.enqueued.Done()
	return doc, nil
}

// Reingest resets an existing document to pending and queues a fresh run.
// Rejected while a run for the document is active.
func (c *Coordinator) Reingest(docID string) (domain.Document, error) {
	doc, t, err := func() (domain.Document, task, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return domain.Document{}, task{}, fmt.Errorf("coordinator is shut down")
		}
		if _, running := c.active[docID]; running {
			return domain.Document{}, task{}, fmt.Errorf("%w: document %s", domain.ErrAlreadyInProgress, docID)
		}

		doc, err := c.store.GetDocument(docID)
		if err != nil {
			return domain.Document{}, task{}, err
		}
		if doc.SourcePath == "" {
			return domain.Document{}, task{}, fmt.Errorf("%w: document %s has no stored source", domain.ErrInvalidInput, docID)
		}
		text, err := fs.ReadFile(doc.SourcePath)
		if err != nil {
			return domain.Document{}, task{}, fmt.Errorf("failed to read source: %w", err)
		}

		doc.Status = domain.StatusPending
		doc.Error = ""
		doc.ChunkCount = 0
		doc.UpdatedAt = time.Now()
		if err := c.store.PutDocument(doc); err != nil {
			return domain.Document{}, task{}, fmt.Errorf("failed to store document: %w", err)
		}
		return doc, c.registerLocked(docID, text), nil
	}()
	if err != nil {
		return domain.Document{}, err
	}
	c.tasks <- t
	c.enqueued.Done()
	return doc, nil
}

// registerLocked marks the run active and builds its task. The caller
// holds c.mu and sends the task to the pool after releasing it, so a slow
// queue never blocks workers on the lock. The enqueued counter keeps
// Shutdown from closing the task channel under a pending send.
func (c *Coordinator) registerLocked(docID, text string) task {
	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.active[docID] = &run{cancel: cancel, done: make(chan struct{})}
	c.enqueued.Add(1)
	return task{ctx: runCtx, docID: docID, text: text}
}

func (c *Coordinator) runIngestion(t task) {
	c.mu.Lock()
	r := c.active[t.docID]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, t.docID)
		c.mu.Unlock()
		if r != nil {
			r.cancel()
			close(r.done)
		}
	}()

	log := c.logger.With(zap.String("doc_id", t.docID))
	start := time.Now()

	if err := c.ingest(t.ctx, t.docID, t.text, log); err != nil {
		// Partial upserts are rolled back before the document fails, so
		// the index never holds entries for a failed document.
		if rbErr := c.index.DeleteByDocument(t.docID); rbErr != nil {
			log.Error("rollback failed", zap.Error(rbErr))
		}
		if rbErr := c.store.DeleteChunksByDoc(t.docID); rbErr != nil {
			log.Error("chunk cleanup failed", zap.Error(rbErr))
		}
		c.setFailed(t.docID, err)
		log.Warn("ingestion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Info("ingestion complete", zap.Duration("elapsed", time.Since(start)))
}

func (c *Coordinator) ingest(ctx context.Context, docID, text string, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before start: %w", err)
	}

	if err := c.setStatus(docID, domain.StatusChunking, 0); err != nil {
		return err
	}

	// Re-ingestion: no duplicate or stale entries may survive the restart.
	if err := c.index.DeleteByDocument(docID); err != nil {
		return fmt.Errorf("failed to clear previous entries: %w", err)
	}
	if err := c.store.DeleteChunksByDoc(docID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	it, err := c.chunker.Chunk(docID, text)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	chunks := chunker.ChunkAll(it)
	if err := c.store.PutChunks(docID, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	log.Debug("chunked document", zap.Int("chunks", len(chunks)))

	if err := c.setStatus(docID, domain.StatusEmbedding, len(chunks)); err != nil {
		return err
	}

	for i := 0; i < len(chunks); i += c.embedBatch {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		end := i + c.embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, chunk := range batch {
			texts[j] = chunk.Text
		}
		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding failed at chunk %d: %w", i, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingUnavailable, len(vectors), len(batch))
		}

		entries := make([]port.Entry, len(batch))
		for j, chunk := range batch {
			entries[j] = port.Entry{
				ChunkID: chunk.ID,
				DocID:   chunk.DocID,
				Ordinal: chunk.Ordinal,
				Vector:  vectors[j],
			}
		}
		if err := c.index.Upsert(entries); err != nil {
			return fmt.Errorf("upsert failed: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}

	// All chunks are staged; publishing flips visibility for the whole
	// document at once.
	if err := c.index.Publish(docID); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if err := c.setStatus(docID, domain.StatusIndexed, len(chunks)); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) setStatus(docID string, status domain.IngestionStatus, chunkCount int) error {
	doc, err := c.store.GetDocument(docID)
	if err != nil {
		return err
	}
	doc.Status = status
	doc.Error = ""
	if chunkCount > 0 {
		doc.ChunkCount = chunkCount
	}
	doc.UpdatedAt = time.Now()
	return c.store.PutDocument(doc)
}

func (c *Coordinator) setFailed(docID string, cause error) {
	doc, err := c.store.GetDocument(docID)
	if err != nil {
		// Deleted mid-run; nothing to record.
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		c.logger.Error("failed to load document for failure transition", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	doc.Status = domain.StatusFailed
	doc.Error = cause.Error()
	doc.UpdatedAt = time.Now()
	if err := c.store.PutDocument(doc); err != nil {
		c.logger.Error("failed to record failure", zap.String("doc_id", docID), zap.Error(err))
	}
}

// Status returns the document's lifecycle handle.
func (c *Coordinator) Status(docID string) (domain.Document, error) {
	return c.store.GetDocument(docID)
}

func (c *Coordinator) List() ([]domain.Document, error) {
	return c.store.ListDocuments()
}

// Delete cancels any active run for the document, waits for its rollback,
// then removes the document, its chunks, and its index entries.
func (c *Coordinator) Delete(docID string) error {
	c.mu.Lock()
	r, running := c.active[docID]
	c.mu.Unlock()

	if running {
		r.cancel()
		<-r.done
	}

	if err := c.index.DeleteByDocument(docID); err != nil {
		return err
	}
	if err := c.store.DeleteChunksByDoc(docID); err != nil {
		return err
	}
	return c.store.DeleteDocument(docID)
}

// Stats summarizes document lifecycle counts and the index size.
func (c *Coordinator) Stats() (domain.Stats, error) {
	docs, err := c.store.ListDocuments()
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{
		Documents:      len(docs),
		ByStatus:       make(map[domain.IngestionStatus]int),
		IndexedVectors: c.index.Size(),
	}
	for _, doc := range docs {
		stats.ByStatus[doc.Status]++
	}
	return stats, nil
}

// Shutdown stops accepting work and waits for in-flight runs, honoring the
// context deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.enqueued.Wait()
	close(c.tasks)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancelAll()
		return nil
	case <-ctx.Done():
		c.cancelAll()
		return ctx.Err()
	}
}
