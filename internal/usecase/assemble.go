package usecase

import (
	"fmt"
	"unicode/utf8"

	"docintel/internal/domain"
)

// AssembleContext packs retrieval results into a bounded context block.
// Results are consumed in descending score order and the fill stops at the
// first snippet that would exceed the budget; later, smaller snippets are
// not pulled forward, so the packed order always matches relevance order.
func AssembleContext(query string, budget int, results []domain.RetrievalResult) (domain.Context, error) {
	if budget <= 0 {
		return domain.Context{}, fmt.Errorf("%w: budget must be positive, got %d", domain.ErrInvalidInput, budget)
	}

	out := domain.Context{
		Query:  query,
		Budget: budget,
	}
	for _, res := range results {
		size := utf8.RuneCountInString(res.Text)
		if out.UsedChars+size > budget {
			break
		}
		out.Snippets = append(out.Snippets, domain.Snippet{
			ChunkID: res.ChunkID,
			DocID:   res.DocID,
			Score:   res.Score,
			Text:    res.Text,
		})
		out.UsedChars += size
	}
	return out, nil
}
