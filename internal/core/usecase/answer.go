package usecase

import (
	"context"
	"fmt"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

// AnswerUseCase hands retrieved evidence to the text-generation collaborator.
// It never alters the evidence it was given.
type AnswerUseCase struct {
	retriever ports.EvidenceRetriever
	generator ports.AnswerGenerator
}

func NewAnswerUseCase(retriever ports.EvidenceRetriever, generator ports.AnswerGenerator) *AnswerUseCase {
	return &AnswerUseCase{
		retriever: retriever,
		generator: generator,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.RetrievalRequest) (*domain.Answer, error) {
	result, err := uc.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	answerText, err := uc.generator.GenerateAnswer(ctx, req.Question, result.Evidence)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.Answer{
		Text:     answerText,
		Evidence: result.Evidence,
		Route:    result.Route,
		Degraded: result.Degraded,
	}, nil
}
