package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

type judgeFake struct {
	mu     sync.Mutex
	scores map[string]float64 // missing id → malformed response
	err    error              // service-level failure for every call
	calls  int32

	inFlight    int32
	maxInFlight int32
}

func (f *judgeFake) ScoreChunk(_ context.Context, _ string, chunk domain.Chunk) (float64, error) {
	atomic.AddInt32(&f.calls, 1)

	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		observed := atomic.LoadInt32(&f.maxInFlight)
		if current <= observed || atomic.CompareAndSwapInt32(&f.maxInFlight, observed, current) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	if f.err != nil {
		return 0, f.err
	}

	f.mu.Lock()
	score, ok := f.scores[chunk.ID]
	f.mu.Unlock()
	if !ok {
		return 0, domain.WrapError(domain.ErrMalformedJudgeResponse, "parse judge score", errors.New("no numeric score"))
	}
	return score, nil
}

func fusedList(ids ...string) []domain.FusedChunk {
	out := make([]domain.FusedChunk, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.FusedChunk{
			ChunkID: id,
			Score:   1.0 / float64(i+1),
			Chunk:   domain.Chunk{ID: id, DocumentID: "doc-1", Text: "text " + id},
		})
	}
	return out
}

func rerankOpts(candidates int) domain.RerankOptions {
	return domain.RerankOptions{
		Enabled:        true,
		CandidateCount: candidates,
		MaxInFlight:    2,
		CallTimeout:    time.Second,
		StageTimeout:   5 * time.Second,
	}
}

func TestRerankOrdersByJudgeScoreDescending(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{"chunk-a": 2.0, "chunk-b": 9.0, "chunk-c": 5.0}}
	stage := NewRerankStage(judge, nil, nil)

	ranked, err := stage.Rerank(context.Background(), "q", fusedList("chunk-a", "chunk-b", "chunk-c"), rerankOpts(5))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []string{"chunk-b", "chunk-c", "chunk-a"}
	for i, id := range want {
		if ranked[i].ChunkID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].ChunkID)
		}
		if !ranked[i].Judged {
			t.Fatalf("position %d: expected judged result", i)
		}
	}
}

func TestRerankTruncatesToCandidateCountBeforeScoring(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{"chunk-a": 1, "chunk-b": 2, "chunk-c": 3, "chunk-d": 4}}
	stage := NewRerankStage(judge, nil, nil)

	ranked, err := stage.Rerank(context.Background(), "q", fusedList("chunk-a", "chunk-b", "chunk-c", "chunk-d"), rerankOpts(2))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 reranked results, got %d", len(ranked))
	}
	if got := atomic.LoadInt32(&judge.calls); got != 2 {
		t.Fatalf("expected 2 judge calls, got %d", got)
	}
}

func TestRerankAllUnparseableKeepsRetrievalOrder(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{}}
	stage := NewRerankStage(judge, nil, nil)

	fused := fusedList("chunk-a", "chunk-b", "chunk-c")
	ranked, err := stage.Rerank(context.Background(), "q", fused, rerankOpts(5))
	if err != nil {
		t.Fatalf("unparseable responses must not fail the stage, got %v", err)
	}
	for i := range fused {
		if ranked[i].ChunkID != fused[i].ChunkID {
			t.Fatalf("position %d: expected original order %s, got %s", i, fused[i].ChunkID, ranked[i].ChunkID)
		}
		if ranked[i].Judged {
			t.Fatalf("position %d: expected unjudged result", i)
		}
	}
}

func TestRerankMixedVerdictsValidFirstThenOriginalOrder(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{"chunk-c": 7.0}}
	stage := NewRerankStage(judge, nil, nil)

	ranked, err := stage.Rerank(context.Background(), "q", fusedList("chunk-a", "chunk-b", "chunk-c"), rerankOpts(5))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []string{"chunk-c", "chunk-a", "chunk-b"}
	for i, id := range want {
		if ranked[i].ChunkID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].ChunkID)
		}
	}
}

func TestRerankAllServiceFailuresSignalsUnavailable(t *testing.T) {
	judge := &judgeFake{err: errors.New("connection refused")}
	stage := NewRerankStage(judge, nil, nil)

	_, err := stage.Rerank(context.Background(), "q", fusedList("chunk-a", "chunk-b"), rerankOpts(5))
	if !domain.IsKind(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestRerankToleratesMissingMetadata(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{"chunk-a": 1.0}}
	stage := NewRerankStage(judge, nil, nil)

	fused := []domain.FusedChunk{{
		ChunkID: "chunk-a",
		Chunk:   domain.Chunk{ID: "chunk-a", Text: "text", Summary: "", Keywords: nil},
	}}
	ranked, err := stage.Rerank(context.Background(), "q", fused, rerankOpts(5))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 1 || !ranked[0].Judged {
		t.Fatalf("expected one judged result, got %+v", ranked)
	}
}

func TestRerankBoundsInFlightJudgeCalls(t *testing.T) {
	judge := &judgeFake{scores: map[string]float64{
		"chunk-a": 1, "chunk-b": 2, "chunk-c": 3, "chunk-d": 4, "chunk-e": 5, "chunk-f": 6,
	}}
	stage := NewRerankStage(judge, nil, nil)

	opts := rerankOpts(6)
	opts.MaxInFlight = 2
	if _, err := stage.Rerank(context.Background(), "q", fusedList("chunk-a", "chunk-b", "chunk-c", "chunk-d", "chunk-e", "chunk-f"), opts); err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if got := atomic.LoadInt32(&judge.maxInFlight); got > 2 {
		t.Fatalf("expected at most 2 in-flight judge calls, observed %d", got)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	stage := NewRerankStage(&judgeFake{}, nil, nil)
	ranked, err := stage.Rerank(context.Background(), "q", nil, rerankOpts(5))
	if err != nil || ranked != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", ranked, err)
	}
}

func TestRerankCanceledContextPropagates(t *testing.T) {
	stage := NewRerankStage(&judgeFake{err: context.Canceled}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stage.Rerank(ctx, "q", fusedList("chunk-a"), rerankOpts(5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
