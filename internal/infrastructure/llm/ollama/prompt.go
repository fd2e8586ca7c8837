package ollama

import (
	"fmt"
	"strings"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

const maxChunkSnippet = 4000

func buildAnswerPrompt(question string, chunks []domain.Chunk) string {
	var contextBuilder strings.Builder
	for idx, chunk := range chunks {
		header := fmt.Sprintf("[%d] document=%s", idx+1, chunk.DocumentID)
		if chunk.SectionTitle != "" {
			header += " section=" + chunk.SectionTitle
		}
		if chunk.PageStart > 0 {
			header += fmt.Sprintf(" pages=%d-%d", chunk.PageStart, chunk.PageEnd)
		}
		contextBuilder.WriteString(header + "\n" + chunk.Text + "\n\n")
	}

	return fmt.Sprintf(`Answer the user question only from the numbered context below.
Cite the context blocks you used as [N] markers inside the answer.
If the context is insufficient, say so directly.

Question:
%s

Context:
%s`, question, contextBuilder.String())
}

// buildJudgePrompt gives the judge the enrichment metadata alongside the
// passage excerpt. Fields stay in place with empty values when a chunk has
// not been enriched yet, so the prompt shape is stable across the corpus.
func buildJudgePrompt(question string, chunk domain.Chunk) string {
	return fmt.Sprintf(`You grade how relevant a document passage is to a question.
Return a strict JSON object with one key:
score (number from 0 to 10, where 0 is irrelevant and 10 answers the question directly).
No markdown, no extra keys.

Question:
%s

Section: %s
Type: %s
Summary: %s
Keywords: %s

Passage:
%s`,
		question,
		chunk.SectionTitle,
		chunk.ElementType,
		chunk.Summary,
		strings.Join(chunk.Keywords, ", "),
		truncateSnippet(chunk.Text),
	)
}

func buildEnrichmentPrompt(chunk domain.Chunk, maxKeywords, summaryLines int) string {
	snippet := truncateSnippet(chunk.Text)

	return fmt.Sprintf(`You index passages from financial documents.
Return a strict JSON object with keys:
summary (string, at most %d sentences), keywords (array of at most %d short search terms).
No markdown, no extra keys.

Passage:
%s`, summaryLines, maxKeywords, snippet)
}

// truncateSnippet caps a passage on a rune boundary; a byte slice could cut
// a multi-byte character in half.
func truncateSnippet(text string) string {
	if len(text) <= maxChunkSnippet {
		return text
	}
	runes := []rune(text)
	if len(runes) > maxChunkSnippet {
		runes = runes[:maxChunkSnippet]
	}
	return string(runes)
}
