package domain

import (
	"fmt"
	"strings"
	"time"
)

type RetrievalMode string

const (
	ModeVector  RetrievalMode = "vector"
	ModeKeyword RetrievalMode = "keyword"
	ModeHybrid  RetrievalMode = "hybrid"
	ModeFusion  RetrievalMode = "fusion"
)

func ParseRetrievalMode(s string) (RetrievalMode, error) {
	switch RetrievalMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeVector:
		return ModeVector, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeFusion:
		return ModeFusion, nil
	default:
		return "", fmt.Errorf("unsupported retrieval mode: %q", s)
	}
}

// NeedsVector reports whether the mode requires a question embedding.
func (m RetrievalMode) NeedsVector() bool {
	return m != ModeKeyword
}

// Question is the user's query text plus its computed embedding. The vector
// is empty until the encode stage runs, and stays empty in keyword mode.
type Question struct {
	Text   string
	Vector []float32
}

type SearchFilter struct {
	DocumentID string
}

type RetrievalSource string

const (
	SourceVector  RetrievalSource = "vector"
	SourceKeyword RetrievalSource = "keyword"
)

// ChunkHit is a single backend search result: the chunk and its
// backend-native score (similarity for vector, BM25 for keyword).
type ChunkHit struct {
	Chunk Chunk
	Score float64
}

// RetrievalCandidate records one (chunk, sub-query) contribution before
// fusion: its backend score, 1-based rank in the sub-list, and which leg
// produced it.
type RetrievalCandidate struct {
	ChunkID string
	Score   float64
	Rank    int
	Source  RetrievalSource
}

// FusedChunk is a deduplicated, rank-fused retrieval result.
type FusedChunk struct {
	ChunkID string
	Score   float64
	Chunk   Chunk
}

// RankedChunk is a rerank-stage output. Judged is false when the judge
// response for this candidate could not be parsed and the chunk kept its
// original retrieval position instead.
type RankedChunk struct {
	ChunkID   string
	Relevance float64
	Judged    bool
	Chunk     Chunk
}

// Answer is the terminal artifact of one pipeline run. Degraded is set when
// reranking was requested but unavailable and the run fell back to the
// un-reranked fused order.
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
	Degraded  bool     `json:"degraded"`
}

type RetrievalOptions struct {
	Mode              RetrievalMode
	TopK              int
	VectorTopK        int
	KeywordTopK       int
	MergeTopK         int
	RRFK              int
	KeywordProperties []string
	HybridAlpha       float64
	Filter            SearchFilter
}

type RerankOptions struct {
	Enabled        bool
	CandidateCount int
	MaxInFlight    int
	CallTimeout    time.Duration
	StageTimeout   time.Duration
}

type GenerationOptions struct {
	MaxContextChunks int
}

// QueryOptions is the immutable per-run configuration surface.
type QueryOptions struct {
	Retrieval  RetrievalOptions
	Rerank     RerankOptions
	Generation GenerationOptions
}

func (o QueryOptions) Normalize() QueryOptions {
	out := o

	if out.Retrieval.Mode == "" {
		out.Retrieval.Mode = ModeFusion
	}
	if out.Retrieval.TopK <= 0 {
		out.Retrieval.TopK = 10
	}
	if out.Retrieval.VectorTopK <= 0 {
		out.Retrieval.VectorTopK = out.Retrieval.TopK
	}
	if out.Retrieval.KeywordTopK <= 0 {
		out.Retrieval.KeywordTopK = out.Retrieval.TopK
	}
	if out.Retrieval.MergeTopK <= 0 {
		out.Retrieval.MergeTopK = out.Retrieval.TopK
	}
	if out.Retrieval.RRFK <= 0 {
		out.Retrieval.RRFK = 60
	}
	if len(out.Retrieval.KeywordProperties) == 0 {
		out.Retrieval.KeywordProperties = []string{"text", "section_title", "keywords"}
	}
	if out.Retrieval.HybridAlpha <= 0 || out.Retrieval.HybridAlpha > 1 {
		out.Retrieval.HybridAlpha = 0.5
	}

	if out.Rerank.CandidateCount <= 0 {
		out.Rerank.CandidateCount = 5
	}
	if out.Rerank.MaxInFlight <= 0 {
		out.Rerank.MaxInFlight = 4
	}
	if out.Rerank.CallTimeout <= 0 {
		out.Rerank.CallTimeout = 30 * time.Second
	}
	if out.Rerank.StageTimeout <= 0 {
		out.Rerank.StageTimeout = 2 * time.Minute
	}

	if out.Generation.MaxContextChunks <= 0 {
		out.Generation.MaxContextChunks = 10
	}

	return out
}
