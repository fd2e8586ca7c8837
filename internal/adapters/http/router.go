package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/core/ports"
	"github.com/avbelov/findoc-qa/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

// RouterConfig carries the HTTP-surface knobs; zero values leave the
// corresponding gate disabled.
type RouterConfig struct {
	ServiceName      string
	RateLimitRPS     int
	RateLimitBurst   int
	MaxConcurrent    int
	BackpressureWait time.Duration
}

type Router struct {
	qa        ports.QuestionAnswerer
	inventory ports.DocumentInventory
	queue     ports.EnrichmentQueue
	defaults  domain.QueryOptions
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
	logger    *slog.Logger
	cfg       RouterConfig
}

func NewRouter(
	qa ports.QuestionAnswerer,
	inventory ports.DocumentInventory,
	queue ports.EnrichmentQueue,
	defaults domain.QueryOptions,
	serverMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	cfg RouterConfig,
) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("build request validator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "findoc-qa"
	}
	if cfg.BackpressureWait <= 0 {
		cfg.BackpressureWait = 5 * time.Second
	}

	return &Router{
		qa:        qa,
		inventory: inventory,
		queue:     queue,
		defaults:  defaults.Normalize(),
		metrics:   serverMetrics,
		validator: validator,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/qa/query", rt.answerQuestion)
	mux.HandleFunc("/v1/documents", rt.listDocuments)
	mux.HandleFunc("/v1/enrichments", rt.scheduleEnrichment)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, rt.cfg.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question   string `json:"question"`
	Mode       string `json:"mode"`
	TopK       int    `json:"top_k"`
	DocumentID string `json:"document_id"`
	Rerank     *bool  `json:"rerank"`
}

type queryResponse struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
	Degraded  bool     `json:"degraded"`
	Mode      string   `json:"mode"`
}

func (rt *Router) answerQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if err := rt.validator.validateBody("QueryRequest", raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req queryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	opts := rt.defaults
	if req.Mode != "" {
		mode, err := domain.ParseRetrievalMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		opts.Retrieval.Mode = mode
	}
	if req.TopK > 0 {
		// A per-request top_k overrides the whole sizing profile; the
		// per-leg depths re-derive from it in Normalize.
		opts.Retrieval.TopK = req.TopK
		opts.Retrieval.VectorTopK = 0
		opts.Retrieval.KeywordTopK = 0
		opts.Retrieval.MergeTopK = 0
		opts = opts.Normalize()
	}
	if req.Rerank != nil {
		opts.Rerank.Enabled = *req.Rerank
	}
	opts.Retrieval.Filter = domain.SearchFilter{DocumentID: strings.TrimSpace(req.DocumentID)}

	start := time.Now()
	answer, err := rt.qa.RunQuery(r.Context(), req.Question, opts)
	if err != nil {
		stage := failedStageLabel(err)
		if rt.metrics != nil {
			rt.metrics.RecordQueryFailure(rt.cfg.ServiceName, string(opts.Retrieval.Mode), stage, time.Since(start))
		}
		rt.logger.Error("qa_query_failed",
			"request_id", requestIDFromContext(r.Context()),
			"mode", string(opts.Retrieval.Mode),
			"stage", stage,
			"error", err,
		)

		payload := map[string]string{"error": err.Error()}
		if stage != "" {
			payload["stage"] = stage
		}
		writeJSON(w, mapErrorToHTTPStatus(err), payload)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordQuerySuccess(rt.cfg.ServiceName, string(opts.Retrieval.Mode), answer.Degraded, len(answer.Citations), time.Since(start))
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer.Text,
		Citations: answer.Citations,
		Degraded:  answer.Degraded,
		Mode:      string(opts.Retrieval.Mode),
	})
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	docs, err := rt.inventory.ListDocuments(r.Context())
	if err != nil {
		rt.logger.Error("list_documents_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if docs == nil {
		docs = []domain.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type enrichmentRequest struct {
	ChunkID string `json:"chunk_id"`
}

func (rt *Router) scheduleEnrichment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if err := rt.validator.validateBody("EnrichmentRequest", raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req enrichmentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.queue.PublishChunkEnrichment(r.Context(), strings.TrimSpace(req.ChunkID)); err != nil {
		rt.logger.Error("enrichment_publish_failed",
			"request_id", requestIDFromContext(r.Context()),
			"chunk_id", req.ChunkID,
			"error", err,
		)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "chunk_id": strings.TrimSpace(req.ChunkID)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
