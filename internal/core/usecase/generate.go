package usecase

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/core/ports"
)

// Returned verbatim when retrieval produced no supporting context; the
// generator is not called in that case.
const noContextAnswer = "No answer: no supporting context was retrieved."

// GenerationStage assembles the bounded context window and synthesizes the
// final answer with citations.
type GenerationStage struct {
	generator ports.AnswerGenerator
	logger    *slog.Logger
}

func NewGenerationStage(generator ports.AnswerGenerator, logger *slog.Logger) *GenerationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationStage{generator: generator, logger: logger}
}

func (s *GenerationStage) Generate(
	ctx context.Context,
	question string,
	chunks []domain.Chunk,
	opts domain.GenerationOptions,
) (*domain.Answer, error) {
	if len(chunks) == 0 {
		s.logger.Warn("generate_no_context", "question_len", len(question))
		return &domain.Answer{Text: noContextAnswer, Citations: []string{}}, nil
	}

	// Incoming rank order is preserved: position signals relevance to the
	// generation model.
	if opts.MaxContextChunks > 0 && len(chunks) > opts.MaxContextChunks {
		chunks = chunks[:opts.MaxContextChunks]
	}

	text, err := s.generator.GenerateAnswer(ctx, question, chunks)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", err)
	}

	return &domain.Answer{
		Text:      text,
		Citations: extractCitations(text, chunks),
	}, nil
}

// extractCitations collects the chunks whose 1-based [i] context marker
// appears in the generated text. When the model cites nothing recognizable,
// the policy is to cite every supplied chunk rather than none.
func extractCitations(text string, chunks []domain.Chunk) []string {
	cited := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		marker := "[" + strconv.Itoa(i+1) + "]"
		if strings.Contains(text, marker) {
			cited = append(cited, chunk.ID)
		}
	}
	if len(cited) > 0 {
		return cited
	}

	all := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		all = append(all, chunk.ID)
	}
	return all
}
