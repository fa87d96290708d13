package usecase

import (
	"strings"
	"unicode"

	"docintel/internal/domain"
)

// diversityReranker applies Maximal Marginal Relevance over retrieval
// results, trading a little relevance for textual variety:
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
type diversityReranker struct {
	lambda       float64
	dedupJaccard float64
}

func newDiversityReranker(lambda, dedupJaccard float64) *diversityReranker {
	return &diversityReranker{
		lambda:       lambda,
		dedupJaccard: dedupJaccard,
	}
}

func (r *diversityReranker) rerank(candidates []domain.RetrievalResult, k int) []domain.RetrievalResult {
	if len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	// Normalize scores to [0, 1] for fair comparison
	maxScore := candidates[0].Score
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	words := make([][]string, len(candidates))
	for i, c := range candidates {
		words[i] = tokenizeWords(c.Text)
	}

	selected := make([]domain.RetrievalResult, 0, k)
	selectedWords := make([][]string, 0, k)
	used := make([]bool, len(candidates))

	for len(selected) < k {
		bestIdx := -1
		bestMMR := -1e9

		for i, candidate := range candidates {
			if used[i] {
				continue
			}

			relevance := candidate.Score / maxScore

			maxSim := 0.0
			for _, sel := range selectedWords {
				sim := jaccardSimilarity(words[i], sel)
				if sim > maxSim {
					maxSim = sim
				}
			}
			if maxSim > r.dedupJaccard {
				continue
			}

			mmr := r.lambda*relevance - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			// All remaining candidates are too similar, stop
			break
		}
		used[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
		selectedWords = append(selectedWords, words[bestIdx])
	}

	return selected
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// jaccardSimilarity computes the Jaccard similarity between two word sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
