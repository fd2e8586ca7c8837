package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

const defaultClass = "FinancialDocChunk"

// chunkProperties is the projection requested from every search. Keeping it
// in one place keeps the three search paths returning identical chunks.
const chunkProperties = "chunk_id source_doc element_type section_title page_start page_end text summary keywords"

// Client talks to Weaviate over its REST and GraphQL endpoints. It implements
// both the search-backend and metadata-writer ports.
type Client struct {
	baseURL    string
	class      string
	httpClient *http.Client
}

func New(baseURL, class string) *Client {
	if class == "" {
		class = defaultClass
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		class:      class,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SupportsNativeHybrid is true: Weaviate fuses vector and BM25 scoring
// server-side, so hybrid mode never needs the client-side fallback.
func (c *Client) SupportsNativeHybrid() bool { return true }

func (c *Client) VectorSearch(
	ctx context.Context,
	vector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.ChunkHit, error) {
	vec, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	query := fmt.Sprintf(
		"{ Get { %s(nearVector: {vector: %s}, limit: %d%s) { %s _additional { certainty } } } }",
		c.class, vec, topK, whereClause(filter), chunkProperties,
	)
	objects, err := c.runGraphQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weaviate vector search: %w", err)
	}
	return hitsFromObjects(objects, "certainty"), nil
}

func (c *Client) KeywordSearch(
	ctx context.Context,
	queryText string,
	properties []string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.ChunkHit, error) {
	quoted, err := json.Marshal(queryText)
	if err != nil {
		return nil, fmt.Errorf("marshal keyword query: %w", err)
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("marshal keyword properties: %w", err)
	}

	query := fmt.Sprintf(
		"{ Get { %s(bm25: {query: %s, properties: %s}, limit: %d%s) { %s _additional { score } } } }",
		c.class, quoted, props, topK, whereClause(filter), chunkProperties,
	)
	objects, err := c.runGraphQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weaviate keyword search: %w", err)
	}
	return hitsFromObjects(objects, "score"), nil
}

func (c *Client) HybridSearch(
	ctx context.Context,
	queryText string,
	vector []float32,
	alpha float64,
	topK int,
	filter domain.SearchFilter,
) ([]domain.ChunkHit, error) {
	quoted, err := json.Marshal(queryText)
	if err != nil {
		return nil, fmt.Errorf("marshal hybrid query: %w", err)
	}

	vectorArg := ""
	if len(vector) > 0 {
		vec, err := json.Marshal(vector)
		if err != nil {
			return nil, fmt.Errorf("marshal hybrid vector: %w", err)
		}
		vectorArg = fmt.Sprintf(", vector: %s", vec)
	}

	query := fmt.Sprintf(
		"{ Get { %s(hybrid: {query: %s, alpha: %g%s}, limit: %d%s) { %s _additional { score } } } }",
		c.class, quoted, alpha, vectorArg, topK, whereClause(filter), chunkProperties,
	)
	objects, err := c.runGraphQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weaviate hybrid search: %w", err)
	}
	return hitsFromObjects(objects, "score"), nil
}

func (c *Client) FetchChunk(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	quoted, err := json.Marshal(chunkID)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk id: %w", err)
	}

	query := fmt.Sprintf(
		"{ Get { %s(where: {path: [\"chunk_id\"], operator: Equal, valueText: %s}, limit: 1) { %s } } }",
		c.class, quoted, chunkProperties,
	)
	objects, err := c.runGraphQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weaviate fetch chunk: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("chunk %q: %w", chunkID, domain.ErrChunkNotFound)
	}
	chunk := chunkFromObject(objects[0])
	return &chunk, nil
}

// UpdateChunkMetadata merges enrichment output into the stored object.
// Object IDs are derived deterministically from the chunk ID, matching how
// the ingestion path names objects, so no lookup round-trip is needed.
func (c *Client) UpdateChunkMetadata(ctx context.Context, chunkID, summary string, keywords []string) error {
	objectID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID))

	payload := map[string]any{
		"class": c.class,
		"properties": map[string]any{
			"summary":  summary,
			"keywords": keywords,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}

	url := fmt.Sprintf("%s/v1/objects/%s/%s", c.baseURL, c.class, objectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create metadata patch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("weaviate metadata patch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("chunk %q object: %w", chunkID, domain.ErrChunkNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return fmt.Errorf("weaviate metadata patch status: %s: %s", resp.Status, trimmed)
		}
		return fmt.Errorf("weaviate metadata patch status: %s", resp.Status)
	}
	return nil
}

// Ready probes the readiness endpoint, used at startup before serving.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/.well-known/ready", nil)
	if err != nil {
		return fmt.Errorf("create readiness request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("weaviate readiness request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("weaviate not ready: %s", resp.Status)
	}
	return nil
}

func (c *Client) runGraphQL(ctx context.Context, query string) ([]map[string]any, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graphql status: %s", resp.Status)
	}

	var gqlResp struct {
		Data struct {
			Get map[string][]map[string]any `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data.Get[c.class], nil
}

func whereClause(filter domain.SearchFilter) string {
	if filter.DocumentID == "" {
		return ""
	}
	quoted, err := json.Marshal(filter.DocumentID)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(", where: {path: [\"source_doc\"], operator: Equal, valueText: %s}", quoted)
}

func hitsFromObjects(objects []map[string]any, scoreField string) []domain.ChunkHit {
	out := make([]domain.ChunkHit, 0, len(objects))
	for _, obj := range objects {
		out = append(out, domain.ChunkHit{
			Chunk: chunkFromObject(obj),
			Score: additionalScore(obj, scoreField),
		})
	}
	return out
}

func chunkFromObject(obj map[string]any) domain.Chunk {
	return domain.Chunk{
		ID:           getString(obj, "chunk_id"),
		DocumentID:   getString(obj, "source_doc"),
		ElementType:  getString(obj, "element_type"),
		SectionTitle: getString(obj, "section_title"),
		PageStart:    getInt(obj, "page_start"),
		PageEnd:      getInt(obj, "page_end"),
		Text:         getString(obj, "text"),
		Summary:      getString(obj, "summary"),
		Keywords:     getStringSlice(obj, "keywords"),
	}
}

// additionalScore digs the ranking signal out of _additional. BM25 and
// hybrid scores arrive as strings, certainty as a number; both are handled.
func additionalScore(obj map[string]any, field string) float64 {
	additional, ok := obj["_additional"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := additional[field].(type) {
	case float64:
		return v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func getString(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func getInt(obj map[string]any, key string) int {
	if f, ok := obj[key].(float64); ok {
		return int(f)
	}
	return 0
}

func getStringSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
