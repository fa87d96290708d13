package usecase

import (
	"context"

	"go.uber.org/zap"

	"docintel/internal/domain"
	"docintel/internal/port"
)

// Answer is the result of a grounded question.
type Answer struct {
	Question string           `json:"question"`
	Text     string           `json:"answer"`
	Model    string           `json:"model"`
	Sources  []domain.Snippet `json:"sources"`
}

// Asker answers questions grounded in retrieved document context.
type Asker struct {
	retriever *Retriever
	generator port.Generator
	logger    *zap.Logger

	topK          int
	contextBudget int
}

func NewAsker(retriever *Retriever, generator port.Generator, logger *zap.Logger, topK, contextBudget int) *Asker {
	if topK <= 0 {
		topK = 5
	}
	if contextBudget <= 0 {
		contextBudget = 8000
	}
	return &Asker{
		retriever:     retriever,
		generator:     generator,
		logger:        logger,
		topK:          topK,
		contextBudget: contextBudget,
	}
}

// Ask retrieves grounding for the question, assembles it under the context
// budget, and hands it to the generator. With no grounding the generator
// answers that it does not know instead of speculating.
func (a *Asker) Ask(ctx context.Context, question string) (Answer, error) {
	results, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		return Answer{}, err
	}

	grounding, err := AssembleContext(question, a.contextBudget, results)
	if err != nil {
		return Answer{}, err
	}

	text, err := a.generator.Generate(ctx, question, grounding)
	if err != nil {
		return Answer{}, err
	}

	a.logger.Info("question answered",
		zap.String("question", question),
		zap.Int("snippets", len(grounding.Snippets)),
		zap.Int("context_chars", grounding.UsedChars))

	return Answer{
		Question: question,
		Text:     text,
		Model:    a.generator.ModelName(),
		Sources:  grounding.Snippets,
	}, nil
}
