package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/core/ports"
)

// RetrievalEngine runs the configured retrieval mode against the search
// backend. Stateless across calls; a backend failure returns a typed
// domain.ErrBackendUnavailable with no partial results.
type RetrievalEngine struct {
	backend ports.SearchBackend
	logger  *slog.Logger
}

func NewRetrievalEngine(backend ports.SearchBackend, logger *slog.Logger) *RetrievalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalEngine{backend: backend, logger: logger}
}

func (e *RetrievalEngine) Retrieve(
	ctx context.Context,
	question domain.Question,
	opts domain.RetrievalOptions,
) ([]domain.FusedChunk, error) {
	switch opts.Mode {
	case domain.ModeVector:
		hits, err := e.backend.VectorSearch(ctx, question.Vector, opts.TopK, opts.Filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "vector search", err)
		}
		return hitsToFused(hits, opts.TopK), nil

	case domain.ModeKeyword:
		hits, err := e.backend.KeywordSearch(ctx, question.Text, opts.KeywordProperties, opts.KeywordTopK, opts.Filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "keyword search", err)
		}
		return hitsToFused(hits, opts.KeywordTopK), nil

	case domain.ModeHybrid:
		if !e.backend.SupportsNativeHybrid() {
			// Backends without native hybrid scoring get client-side
			// rank fusion instead.
			e.logger.Info("hybrid_fallback_fusion")
			return e.retrieveFusion(ctx, question, opts)
		}
		hits, err := e.backend.HybridSearch(ctx, question.Text, question.Vector, opts.HybridAlpha, opts.TopK, opts.Filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "hybrid search", err)
		}
		return hitsToFused(hits, opts.TopK), nil

	case domain.ModeFusion:
		return e.retrieveFusion(ctx, question, opts)

	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errUnsupportedMode(opts.Mode))
	}
}

// retrieveFusion runs the vector and keyword legs concurrently, joins them,
// and merges by RRF.
func (e *RetrievalEngine) retrieveFusion(
	ctx context.Context,
	question domain.Question,
	opts domain.RetrievalOptions,
) ([]domain.FusedChunk, error) {
	var vectorHits, keywordHits []domain.ChunkHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.backend.VectorSearch(gctx, question.Vector, opts.VectorTopK, opts.Filter)
		if err != nil {
			return domain.WrapError(domain.ErrBackendUnavailable, "fusion vector leg", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.backend.KeywordSearch(gctx, question.Text, opts.KeywordProperties, opts.KeywordTopK, opts.Filter)
		if err != nil {
			return domain.WrapError(domain.ErrBackendUnavailable, "fusion keyword leg", err)
		}
		keywordHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := collectCandidates(vectorHits, keywordHits)
	chunks := collectChunks(vectorHits, keywordHits)
	merged := fuseCandidatesRRF(candidates, chunks, opts.RRFK, opts.MergeTopK)

	e.logger.Debug("retrieval_fusion",
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"merged", len(merged),
	)
	return merged, nil
}

type errUnsupportedMode domain.RetrievalMode

func (e errUnsupportedMode) Error() string {
	return "unsupported retrieval mode: " + string(e)
}
