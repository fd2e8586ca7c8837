package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/avbelov/findoc-qa/internal/config"
	"github.com/avbelov/findoc-qa/internal/core/ports"
	"github.com/avbelov/findoc-qa/internal/core/usecase"
	"github.com/avbelov/findoc-qa/internal/infrastructure/llm/ollama"
	"github.com/avbelov/findoc-qa/internal/infrastructure/queue/nats"
	"github.com/avbelov/findoc-qa/internal/infrastructure/repository/postgres"
	"github.com/avbelov/findoc-qa/internal/infrastructure/resilience"
	"github.com/avbelov/findoc-qa/internal/infrastructure/search/weaviate"
	"github.com/avbelov/findoc-qa/internal/observability/logging"
)

// App wires the full dependency graph once; the api and worker binaries pick
// the ports they need from it.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Pipeline  ports.QuestionAnswerer
	Inventory ports.DocumentInventory
	Queue     *nats.Queue
	EnrichUC  ports.ChunkEnrichmentProcessor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.New(service, cfg.LogLevel, cfg.LogFormat)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewChunkMetadataRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.Logger = logger
	executor := resilience.NewExecutor(resilienceCfg)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init enrichment queue: %w", err)
	}

	backend := weaviate.New(cfg.WeaviateURL, cfg.WeaviateClass)
	if err := backend.Ready(ctx); err != nil {
		logger.Warn("weaviate not ready at startup", "error", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaJudgeModel)
	embedder := usecase.NewCachingEmbedder(ollama.NewEmbedder(ollamaClient), cfg.EmbedCacheSize)

	judgeLimiter := rate.NewLimiter(rate.Limit(cfg.JudgeRateLimitRPS), cfg.JudgeRateBurst)

	pipeline := usecase.NewQueryPipeline(
		embedder,
		usecase.NewRetrievalEngine(backend, logger),
		usecase.NewRerankStage(ollama.NewJudge(ollamaClient), judgeLimiter, logger),
		usecase.NewGenerationStage(ollama.NewGenerator(ollamaClient), logger),
		logger,
	)

	enrichUC := usecase.NewEnrichChunkUseCase(
		backend,
		ollama.NewEnricher(ollamaClient, executor),
		repo,
		backend,
		cfg.EnrichMaxKeywords,
		cfg.EnrichSummaryLines,
		cfg.EnrichOverwrite,
		logger,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Pipeline:  pipeline,
		Inventory: repo,
		Queue:     queue,
		EnrichUC:  enrichUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
