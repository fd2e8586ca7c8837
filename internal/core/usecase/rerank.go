package usecase

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/core/ports"
)

// RerankStage reorders a bounded prefix of the fused candidates with the LLM
// judge. Per-candidate failures are absorbed: candidates whose judge
// response is malformed keep their original retrieval position after the
// validly scored ones. The stage only errors when every judge call fails at
// service level (domain.ErrRerankUnavailable) or the run is canceled.
type RerankStage struct {
	judge   ports.RelevanceJudge
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRerankStage wires the judge; limiter may be nil to disable judge-call
// rate limiting.
func NewRerankStage(judge ports.RelevanceJudge, limiter *rate.Limiter, logger *slog.Logger) *RerankStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankStage{judge: judge, limiter: limiter, logger: logger}
}

type judgeVerdict struct {
	score      float64
	judged     bool
	serviceErr error
}

func (s *RerankStage) Rerank(
	ctx context.Context,
	question string,
	fused []domain.FusedChunk,
	opts domain.RerankOptions,
) ([]domain.RankedChunk, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	// Judge cost is bounded by scoring only a prefix of the fused list.
	head := fused
	if opts.CandidateCount > 0 && len(head) > opts.CandidateCount {
		head = head[:opts.CandidateCount]
	}

	stageCtx := ctx
	if opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, opts.StageTimeout)
		defer cancel()
	}

	verdicts := make([]judgeVerdict, len(head))

	g, gctx := errgroup.WithContext(stageCtx)
	if opts.MaxInFlight > 0 {
		g.SetLimit(opts.MaxInFlight)
	}
	for i := range head {
		g.Go(func() error {
			verdicts[i] = s.judgeOne(gctx, question, head[i].Chunk, opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	serviceFailures := 0
	var firstServiceErr error
	for _, v := range verdicts {
		if v.serviceErr != nil {
			serviceFailures++
			if firstServiceErr == nil {
				firstServiceErr = v.serviceErr
			}
		}
	}
	if serviceFailures == len(head) {
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank", firstServiceErr)
	}

	return orderVerdicts(head, verdicts), nil
}

func (s *RerankStage) judgeOne(
	ctx context.Context,
	question string,
	chunk domain.Chunk,
	opts domain.RerankOptions,
) judgeVerdict {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return judgeVerdict{serviceErr: err}
		}
	}

	callCtx := ctx
	if opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}

	score, err := s.judge.ScoreChunk(callCtx, question, chunk)
	if err == nil {
		return judgeVerdict{score: score, judged: true}
	}
	if domain.IsKind(err, domain.ErrMalformedJudgeResponse) {
		// Unparseable output is a per-candidate degradation, never a
		// stage failure.
		s.logger.Warn("judge_response_unparseable", "chunk_id", chunk.ID, "error", err)
		return judgeVerdict{}
	}
	s.logger.Warn("judge_call_failed", "chunk_id", chunk.ID, "error", err)
	return judgeVerdict{serviceErr: err}
}

// orderVerdicts applies the fallback policy: validly judged candidates by
// score descending first, then unjudged ones in their original retrieval
// order.
func orderVerdicts(head []domain.FusedChunk, verdicts []judgeVerdict) []domain.RankedChunk {
	judged := make([]domain.RankedChunk, 0, len(head))
	unjudged := make([]domain.RankedChunk, 0, len(head))
	for i, c := range head {
		ranked := domain.RankedChunk{
			ChunkID:   c.ChunkID,
			Relevance: verdicts[i].score,
			Judged:    verdicts[i].judged,
			Chunk:     c.Chunk,
		}
		if ranked.Judged {
			judged = append(judged, ranked)
			continue
		}
		unjudged = append(unjudged, ranked)
	}

	// Stable keeps the incoming retrieval order for equal scores.
	sort.SliceStable(judged, func(i, j int) bool {
		return judged[i].Relevance > judged[j].Relevance
	})

	return append(judged, unjudged...)
}
