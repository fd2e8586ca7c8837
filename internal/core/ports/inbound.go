package ports

import (
	"context"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for one question-answering run.
// Synchronous from the caller's perspective, internally concurrent,
// cancellable through ctx.
type QuestionAnswerer interface {
	RunQuery(ctx context.Context, question string, opts domain.QueryOptions) (*domain.Answer, error)
}

// DocumentInventory lists the indexed documents available for filtering.
type DocumentInventory interface {
	ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error)
}

// ChunkEnrichmentProcessor is the inbound contract for asynchronous chunk
// metadata enrichment.
type ChunkEnrichmentProcessor interface {
	EnrichByID(ctx context.Context, chunkID string) error
}
