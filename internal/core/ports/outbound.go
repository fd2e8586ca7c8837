package ports

import (
	"context"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

// SearchBackend wraps the vector/keyword store. All searches return hydrated
// chunk hits ordered by backend score descending.
type SearchBackend interface {
	VectorSearch(ctx context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.ChunkHit, error)
	KeywordSearch(ctx context.Context, query string, properties []string, topK int, filter domain.SearchFilter) ([]domain.ChunkHit, error)
	HybridSearch(ctx context.Context, query string, vector []float32, alpha float64, topK int, filter domain.SearchFilter) ([]domain.ChunkHit, error)
	// SupportsNativeHybrid reports whether HybridSearch runs a native
	// combined scoring in the backend. When false, hybrid mode falls back
	// to client-side fusion.
	SupportsNativeHybrid() bool
	FetchChunk(ctx context.Context, chunkID string) (*domain.Chunk, error)
}

// Embedder maps query text to a fixed-length vector, deterministic for a
// fixed model version.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RelevanceJudge scores one (question, candidate) pair. A response that is
// not parseable into a score surfaces as domain.ErrMalformedJudgeResponse;
// any other error is a service-level failure.
type RelevanceJudge interface {
	ScoreChunk(ctx context.Context, question string, chunk domain.Chunk) (float64, error)
}

// AnswerGenerator synthesizes the final answer from the question and the
// ordered supporting chunks.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, chunks []domain.Chunk) (string, error)
}

// ChunkEnricher asks the LLM for a summary and keywords for one chunk.
type ChunkEnricher interface {
	EnrichChunk(ctx context.Context, chunk domain.Chunk, maxKeywords, summaryLines int) (domain.ChunkMetadata, error)
}

// MetadataStore persists enrichment output and serves the corpus inventory.
type MetadataStore interface {
	UpsertMetadata(ctx context.Context, meta domain.ChunkMetadata) error
	GetMetadata(ctx context.Context, chunkID string) (*domain.ChunkMetadata, error)
	ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error)
}

// MetadataWriter pushes enrichment output back into the search backend so
// query-time retrieval sees it.
type MetadataWriter interface {
	UpdateChunkMetadata(ctx context.Context, chunkID, summary string, keywords []string) error
}

// EnrichmentQueue publishes/consumes chunk enrichment events.
type EnrichmentQueue interface {
	PublishChunkEnrichment(ctx context.Context, chunkID string) error
	SubscribeChunkEnrichment(ctx context.Context, handler func(context.Context, string) error) error
}
