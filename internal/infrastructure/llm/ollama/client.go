package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avbelov/findoc-qa/internal/core/domain"
	"github.com/avbelov/findoc-qa/internal/infrastructure/resilience"
)

// Client holds the connection shared by the role-specific adapters. Separate
// model names let deployments run a small judge next to a larger generator.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	judgeModel string
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel, judgeModel string) *Client {
	if judgeModel == "" {
		judgeModel = genModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		judgeModel: judgeModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Judge scores one question/chunk pair on a 0-10 scale. A response the model
// did not shape as expected is a malformed-response error, which the caller
// treats differently from a transport failure.
type Judge struct {
	client *Client
}

func NewJudge(client *Client) *Judge {
	return &Judge{client: client}
}

func (j *Judge) ScoreChunk(ctx context.Context, question string, chunk domain.Chunk) (float64, error) {
	raw, err := j.client.generateJSON(ctx, j.client.judgeModel, buildJudgePrompt(question, chunk))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return 0, domain.WrapError(domain.ErrMalformedJudgeResponse, "parse judge score", err)
	}
	if parsed.Score == nil {
		return 0, domain.WrapError(domain.ErrMalformedJudgeResponse, "parse judge score",
			fmt.Errorf("response has no score field"))
	}
	if *parsed.Score < 0 || *parsed.Score > 10 {
		return 0, domain.WrapError(domain.ErrMalformedJudgeResponse, "parse judge score",
			fmt.Errorf("score %v outside 0-10", *parsed.Score))
	}
	return *parsed.Score, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, chunks []domain.Chunk) (string, error) {
	return g.client.generateText(ctx, g.client.genModel, buildAnswerPrompt(question, chunks))
}

// Enricher asks the generation model for a summary and keyword list per
// chunk. Enrichment runs from the background worker, so calls go through the
// resilience executor rather than failing a user-facing request.
type Enricher struct {
	client *Client
	exec   *resilience.Executor
}

func NewEnricher(client *Client, exec *resilience.Executor) *Enricher {
	return &Enricher{client: client, exec: exec}
}

func (e *Enricher) EnrichChunk(ctx context.Context, chunk domain.Chunk, maxKeywords, summaryLines int) (domain.ChunkMetadata, error) {
	prompt := buildEnrichmentPrompt(chunk, maxKeywords, summaryLines)

	var raw string
	err := e.exec.Execute(ctx, "ollama_enrich", func(ctx context.Context) error {
		var callErr error
		raw, callErr = e.client.generateJSON(ctx, e.client.genModel, prompt)
		return callErr
	}, classifyOllamaError)
	if err != nil {
		return domain.ChunkMetadata{}, wrapTemporaryIfNeeded("enrich chunk", err)
	}

	var parsed struct {
		Summary  string   `json:"summary"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return domain.ChunkMetadata{}, fmt.Errorf("parse enrichment json: %w", err)
	}
	return domain.ChunkMetadata{
		Summary:  strings.TrimSpace(parsed.Summary),
		Keywords: parsed.Keywords,
	}, nil
}

func (c *Client) generateJSON(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (c *Client) generateText(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// extractJSONObject trims model chatter around the JSON body. format=json
// usually prevents it, but smaller models still wrap output occasionally.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
