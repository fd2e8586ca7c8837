package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

type embedderFake struct {
	vector []float32
	err    error
	calls  int
}

func (f *embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

func newPipeline(embedder *embedderFake, backend *backendFake, judge *judgeFake, generator *generatorFake) *QueryPipeline {
	return NewQueryPipeline(
		embedder,
		NewRetrievalEngine(backend, nil),
		NewRerankStage(judge, nil, nil),
		NewGenerationStage(generator, nil),
		nil,
	)
}

func fusionQueryOpts() domain.QueryOptions {
	return domain.QueryOptions{
		Retrieval: domain.RetrievalOptions{
			Mode:        domain.ModeFusion,
			VectorTopK:  20,
			KeywordTopK: 20,
			MergeTopK:   10,
			RRFK:        60,
		},
		Rerank: domain.RerankOptions{
			Enabled:        true,
			CandidateCount: 5,
			MaxInFlight:    2,
		},
		Generation: domain.GenerationOptions{MaxContextChunks: 10},
	}
}

func TestRunQueryFusionRerankEndToEnd(t *testing.T) {
	backend := &backendFake{
		vectorHits: []domain.ChunkHit{
			hit("chunk-a", 0.95), hit("chunk-b", 0.90), hit("chunk-c", 0.85),
			hit("chunk-d", 0.80), hit("chunk-e", 0.75), hit("chunk-f", 0.70),
		},
		keywordHits: []domain.ChunkHit{
			hit("chunk-b", 4.2), hit("chunk-g", 3.9), hit("chunk-h", 3.1),
			hit("chunk-a", 2.8), hit("chunk-i", 2.0), hit("chunk-j", 1.4),
		},
	}
	judge := &judgeFake{scores: map[string]float64{
		"chunk-a": 3.0, "chunk-b": 9.0, "chunk-c": 6.0, "chunk-d": 1.0, "chunk-e": 7.0,
		"chunk-f": 2.0, "chunk-g": 8.0, "chunk-h": 5.0, "chunk-i": 4.0, "chunk-j": 0.5,
	}}
	generator := &generatorFake{answer: "Revenue rose 4% [1], driven by services [3]."}
	embedder := &embedderFake{vector: []float32{0.1, 0.2}}

	pipeline := newPipeline(embedder, backend, judge, generator)
	answer, err := pipeline.RunQuery(context.Background(), "How did revenue change?", fusionQueryOpts())
	if err != nil {
		t.Fatalf("RunQuery() error = %v", err)
	}

	if embedder.calls != 1 {
		t.Fatalf("expected one embedding call, got %d", embedder.calls)
	}
	if backend.vectorCalls != 1 || backend.keywordCalls != 1 {
		t.Fatalf("expected both fusion legs queried once, got vector=%d keyword=%d", backend.vectorCalls, backend.keywordCalls)
	}
	if judge.calls != 5 {
		t.Fatalf("expected rerank bounded to 5 candidates, got %d judge calls", judge.calls)
	}
	if answer.Degraded {
		t.Fatalf("run with healthy judge must not be degraded")
	}
	if len(answer.Citations) == 0 {
		t.Fatalf("expected non-empty citations")
	}
	if len(generator.chunks) != 5 {
		t.Fatalf("expected 5 reranked chunks as generation context, got %d", len(generator.chunks))
	}
	reranked := make(map[string]struct{}, len(generator.chunks))
	for _, c := range generator.chunks {
		reranked[c.ID] = struct{}{}
	}
	for _, id := range answer.Citations {
		if _, ok := reranked[id]; !ok {
			t.Fatalf("citation %q is not among the reranked chunks", id)
		}
	}
}

func TestRunQueryBackendOutageFailsAtRetrieve(t *testing.T) {
	backend := &backendFake{
		vectorErr:  errors.New("connection refused"),
		keywordErr: errors.New("connection refused"),
	}
	pipeline := newPipeline(&embedderFake{vector: []float32{0.1}}, backend, &judgeFake{}, &generatorFake{})

	answer, err := pipeline.RunQuery(context.Background(), "q", fusionQueryOpts())
	if answer != nil {
		t.Fatalf("expected no answer on backend outage, got %+v", answer)
	}
	stage, ok := domain.FailedStage(err)
	if !ok || stage != domain.StageRetrieve {
		t.Fatalf("expected failure attributed to retrieve stage, got stage=%q ok=%v err=%v", stage, ok, err)
	}
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRunQueryRerankOutageDegradesButCompletes(t *testing.T) {
	backend := &backendFake{
		vectorHits:  []domain.ChunkHit{hit("chunk-a", 0.9), hit("chunk-b", 0.8)},
		keywordHits: []domain.ChunkHit{hit("chunk-b", 3.0), hit("chunk-c", 2.0)},
	}
	judge := &judgeFake{err: errors.New("judge model unreachable")}
	generator := &generatorFake{answer: "Answer [1]."}

	pipeline := newPipeline(&embedderFake{vector: []float32{0.1}}, backend, judge, generator)
	answer, err := pipeline.RunQuery(context.Background(), "q", fusionQueryOpts())
	if err != nil {
		t.Fatalf("rerank outage must not fail the run, got %v", err)
	}
	if !answer.Degraded {
		t.Fatalf("expected degraded answer when rerank is unavailable")
	}
	// The fused order stands in for the reranked one.
	if generator.chunks[0].ID != "chunk-b" {
		t.Fatalf("expected fused order as generation context, got %s first", generator.chunks[0].ID)
	}
}

func TestRunQueryKeywordModeSkipsEmbedding(t *testing.T) {
	backend := &backendFake{keywordHits: []domain.ChunkHit{hit("chunk-a", 2.0)}}
	embedder := &embedderFake{err: errors.New("must not be called")}
	generator := &generatorFake{answer: "Answer [1]."}

	opts := fusionQueryOpts()
	opts.Retrieval.Mode = domain.ModeKeyword
	opts.Rerank.Enabled = false

	pipeline := newPipeline(embedder, backend, &judgeFake{}, generator)
	answer, err := pipeline.RunQuery(context.Background(), "q", opts)
	if err != nil {
		t.Fatalf("RunQuery() error = %v", err)
	}
	if embedder.calls != 0 {
		t.Fatalf("keyword retrieval must not invoke the embedder, got %d calls", embedder.calls)
	}
	if answer.Degraded {
		t.Fatalf("disabled rerank is not a degradation")
	}
}

func TestRunQueryRerankDisabledUsesFusedContext(t *testing.T) {
	backend := &backendFake{
		vectorHits:  []domain.ChunkHit{hit("chunk-a", 0.9)},
		keywordHits: []domain.ChunkHit{hit("chunk-b", 2.0)},
	}
	judge := &judgeFake{scores: map[string]float64{"chunk-a": 9.0, "chunk-b": 8.0}}
	generator := &generatorFake{answer: "Answer."}

	opts := fusionQueryOpts()
	opts.Rerank.Enabled = false

	pipeline := newPipeline(&embedderFake{vector: []float32{0.1}}, backend, judge, generator)
	if _, err := pipeline.RunQuery(context.Background(), "q", opts); err != nil {
		t.Fatalf("RunQuery() error = %v", err)
	}
	if judge.calls != 0 {
		t.Fatalf("judge must not run when rerank is disabled, got %d calls", judge.calls)
	}
	if len(generator.chunks) != 2 {
		t.Fatalf("expected fused chunks as context, got %d", len(generator.chunks))
	}
}

func TestRunQueryEmptyQuestionRejected(t *testing.T) {
	pipeline := newPipeline(&embedderFake{}, &backendFake{}, &judgeFake{}, &generatorFake{})

	_, err := pipeline.RunQuery(context.Background(), "   ", domain.QueryOptions{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank question, got %v", err)
	}
}

func TestRunQueryEncodeFailureAttributed(t *testing.T) {
	embedder := &embedderFake{err: errors.New("embedding service down")}
	pipeline := newPipeline(embedder, &backendFake{}, &judgeFake{}, &generatorFake{})

	_, err := pipeline.RunQuery(context.Background(), "q", fusionQueryOpts())
	stage, ok := domain.FailedStage(err)
	if !ok || stage != domain.StageEncode {
		t.Fatalf("expected failure attributed to encode stage, got stage=%q err=%v", stage, err)
	}
}

func TestRunQueryCanceledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipeline := newPipeline(&embedderFake{vector: []float32{0.1}}, &backendFake{}, &judgeFake{}, &generatorFake{})
	_, err := pipeline.RunQuery(ctx, "q", fusionQueryOpts())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := domain.FailedStage(err); !ok {
		t.Fatalf("cancellation must still be attributed to a stage, got %v", err)
	}
}

func TestRunQueryGenerationFailureAttributed(t *testing.T) {
	backend := &backendFake{vectorHits: []domain.ChunkHit{hit("chunk-a", 0.9)}}
	generator := &generatorFake{err: errors.New("model overloaded")}

	opts := fusionQueryOpts()
	opts.Retrieval.Mode = domain.ModeVector
	opts.Rerank.Enabled = false

	pipeline := newPipeline(&embedderFake{vector: []float32{0.1}}, backend, &judgeFake{}, generator)
	_, err := pipeline.RunQuery(context.Background(), "q", opts)
	stage, ok := domain.FailedStage(err)
	if !ok || stage != domain.StageGenerate {
		t.Fatalf("expected failure attributed to generate stage, got stage=%q err=%v", stage, err)
	}
	if !domain.IsKind(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
}
