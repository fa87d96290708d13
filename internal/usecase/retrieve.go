package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"docintel/internal/adapter/cache"
	"docintel/internal/domain"
	"docintel/internal/port"
)

// overfetchFactor widens the index query so that deduplication of
// overlapping chunks from the same document still leaves k results.
const overfetchFactor = 3

// Retriever turns a text query into ranked chunk results. Results are
// cached per index generation, so any publish or delete invalidates
// stale hits.
type Retriever struct {
	embedder  port.Embedder
	index     port.VectorIndex
	store     port.DocumentStore
	cache     *cache.QueryCache
	logger    *zap.Logger
	diversity *diversityReranker
}

func NewRetriever(embedder port.Embedder, index port.VectorIndex, store port.DocumentStore, qc *cache.QueryCache, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		store:    store,
		cache:    qc,
		logger:   logger,
	}
}

// WithDiversity enables MMR reranking of results. Lambda near 1 keeps pure
// relevance order; lower values favor textual variety. Candidates above
// the dedup threshold against an already selected result are dropped.
func (r *Retriever) WithDiversity(lambda, dedupJaccard float64) *Retriever {
	r.diversity = newDiversityReranker(lambda, dedupJaccard)
	return r
}

// Retrieve returns up to k chunks ranked by similarity to the query.
// Overlapping neighbor chunks from the same document are collapsed to the
// best-scoring one. An empty index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}

	gen := r.index.Generation()
	if r.cache != nil {
		if results, ok := r.cache.Get(query, k, gen); ok {
			r.logger.Debug("retrieval cache hit", zap.String("query", query))
			return results, nil
		}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Search(vector, k*overfetchFactor, nil)
	if err != nil {
		return nil, err
	}

	results, err := r.hydrate(matches)
	if err != nil {
		return nil, err
	}
	results = dedupeNeighbors(results)
	if r.diversity != nil {
		results = r.diversity.rerank(results, k)
	}
	if len(results) > k {
		results = results[:k]
	}

	if r.cache != nil {
		r.cache.Put(query, k, gen, results)
	}
	r.logger.Debug("retrieval complete",
		zap.String("query", query),
		zap.Int("matches", len(matches)),
		zap.Int("results", len(results)))
	return results, nil
}

// hydrate resolves match payloads from the chunk store. A chunk deleted
// between search and lookup is skipped rather than failing the query; the
// skip is logged so a shrinking result set can be traced.
func (r *Retriever) hydrate(matches []port.Match) ([]domain.RetrievalResult, error) {
	results := make([]domain.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		chunk, err := r.store.GetChunk(m.ChunkID)
		if err != nil {
			r.logger.Warn("dropping match without a stored chunk",
				zap.String("chunk_id", m.ChunkID),
				zap.Error(err))
			continue
		}
		results = append(results, domain.RetrievalResult{
			ChunkID: m.ChunkID,
			DocID:   m.DocID,
			Ordinal: m.Ordinal,
			Score:   m.Score,
			Text:    chunk.Text,
		})
	}
	return results, nil
}

// dedupeNeighbors drops a result whose document already contributed an
// adjacent chunk with a better or equal score. Overlap makes adjacent
// chunks near-duplicates of each other.
func dedupeNeighbors(results []domain.RetrievalResult) []domain.RetrievalResult {
	kept := make([]domain.RetrievalResult, 0, len(results))
	byDoc := make(map[string][]int)
	for _, res := range results {
		adjacent := false
		for _, ord := range byDoc[res.DocID] {
			if res.Ordinal == ord-1 || res.Ordinal == ord+1 {
				adjacent = true
				break
			}
		}
		if adjacent {
			continue
		}
		byDoc[res.DocID] = append(byDoc[res.DocID], res.Ordinal)
		kept = append(kept, res)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if kept[i].DocID != kept[j].DocID {
			return kept[i].DocID < kept[j].DocID
		}
		return kept[i].Ordinal < kept[j].Ordinal
	})
	return kept
}
