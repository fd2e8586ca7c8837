package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/core/ports"
)

// QueryPipeline sequences encode → retrieve → rerank? → generate as an
// explicit state machine. One pipelineState value is owned by a single run
// and discarded on completion; runs share nothing mutable.
type QueryPipeline struct {
	embedder ports.Embedder
	engine   *RetrievalEngine
	reranker *RerankStage
	genStage *GenerationStage
	logger   *slog.Logger
}

func NewQueryPipeline(
	embedder ports.Embedder,
	engine *RetrievalEngine,
	reranker *RerankStage,
	genStage *GenerationStage,
	logger *slog.Logger,
) *QueryPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryPipeline{
		embedder: embedder,
		engine:   engine,
		reranker: reranker,
		genStage: genStage,
		logger:   logger,
	}
}

type pipelineState struct {
	question domain.Question
	fused    []domain.FusedChunk
	ranked   []domain.RankedChunk
	answer   *domain.Answer
	stage    domain.Stage
	degraded bool
	err      error
}

func (st *pipelineState) fail(stage domain.Stage, err error) {
	st.err = domain.FailStage(stage, err)
	st.stage = domain.StageFailed
}

func (p *QueryPipeline) RunQuery(
	ctx context.Context,
	question string,
	opts domain.QueryOptions,
) (*domain.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run query", fmt.Errorf("question is empty"))
	}
	opts = opts.Normalize()

	start := time.Now()
	st := &pipelineState{
		question: domain.Question{Text: question},
		stage:    domain.StageEncode,
	}

	for st.stage != domain.StageDone && st.stage != domain.StageFailed {
		if err := ctx.Err(); err != nil {
			st.fail(st.stage, err)
			break
		}

		switch st.stage {
		case domain.StageEncode:
			p.runEncode(ctx, st, opts)
		case domain.StageRetrieve:
			p.runRetrieve(ctx, st, opts)
		case domain.StageRerank:
			p.runRerank(ctx, st, opts)
		case domain.StageGenerate:
			p.runGenerate(ctx, st, opts)
		}
	}

	if st.stage == domain.StageFailed {
		stage, _ := domain.FailedStage(st.err)
		p.logger.Error("query_run_failed",
			"stage", string(stage),
			"mode", string(opts.Retrieval.Mode),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", st.err,
		)
		return nil, st.err
	}

	p.logger.Info("query_run_completed",
		"mode", string(opts.Retrieval.Mode),
		"fused", len(st.fused),
		"reranked", len(st.ranked),
		"degraded", st.degraded,
		"citations", len(st.answer.Citations),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return st.answer, nil
}

// runEncode computes the question embedding. Pure keyword retrieval has no
// use for it and skips the embedder call entirely.
func (p *QueryPipeline) runEncode(ctx context.Context, st *pipelineState, opts domain.QueryOptions) {
	if opts.Retrieval.Mode.NeedsVector() {
		vector, err := p.embedder.EmbedQuery(ctx, st.question.Text)
		if err != nil {
			st.fail(domain.StageEncode, fmt.Errorf("embed question: %w", err))
			return
		}
		st.question.Vector = vector
	}
	st.stage = domain.StageRetrieve
}

func (p *QueryPipeline) runRetrieve(ctx context.Context, st *pipelineState, opts domain.QueryOptions) {
	fused, err := p.engine.Retrieve(ctx, st.question, opts.Retrieval)
	if err != nil {
		st.fail(domain.StageRetrieve, err)
		return
	}
	st.fused = fused

	if opts.Rerank.Enabled {
		st.stage = domain.StageRerank
		return
	}
	st.stage = domain.StageGenerate
}

func (p *QueryPipeline) runRerank(ctx context.Context, st *pipelineState, opts domain.QueryOptions) {
	ranked, err := p.reranker.Rerank(ctx, st.question.Text, st.fused, opts.Rerank)
	if err != nil {
		if domain.IsKind(err, domain.ErrRerankUnavailable) {
			// Judge outage falls back to the fused order and marks the run.
			p.logger.Warn("rerank_unavailable_degrading", "error", err)
			st.degraded = true
			st.stage = domain.StageGenerate
			return
		}
		st.fail(domain.StageRerank, err)
		return
	}
	st.ranked = ranked
	st.stage = domain.StageGenerate
}

func (p *QueryPipeline) runGenerate(ctx context.Context, st *pipelineState, opts domain.QueryOptions) {
	answer, err := p.genStage.Generate(ctx, st.question.Text, st.contextChunks(), opts.Generation)
	if err != nil {
		st.fail(domain.StageGenerate, err)
		return
	}
	answer.Degraded = st.degraded
	st.answer = answer
	st.stage = domain.StageDone
}

// contextChunks picks the supporting chunks for generation: the reranked
// list when the rerank stage ran, the fused list otherwise.
func (st *pipelineState) contextChunks() []domain.Chunk {
	if st.ranked != nil {
		out := make([]domain.Chunk, 0, len(st.ranked))
		for _, r := range st.ranked {
			out = append(out, r.Chunk)
		}
		return out
	}
	out := make([]domain.Chunk, 0, len(st.fused))
	for _, f := range st.fused {
		out = append(out, f.Chunk)
	}
	return out
}
