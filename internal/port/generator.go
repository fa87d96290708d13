package port

import (
	"context"

	"docintel/internal/domain"
)

// Generator turns a question and a retrieved context into a prose answer.
// It is an external capability; the core only hands it a well-formed
// Context and must cope with an empty one.
type Generator interface {
	Generate(ctx context.Context, question string, grounding domain.Context) (string, error)

	// ModelName returns the name of the generation model.
	ModelName() string
}
