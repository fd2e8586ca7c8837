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

// EnrichChunkUseCase generates summary/keyword metadata for one chunk and
// writes it to the metadata store and back into the search backend.
// Re-running on an already-enriched chunk overwrites deterministically, so
// queue redeliveries are safe.
type EnrichChunkUseCase struct {
	backend  ports.SearchBackend
	enricher ports.ChunkEnricher
	store    ports.MetadataStore
	writer   ports.MetadataWriter
	logger   *slog.Logger

	maxKeywords  int
	summaryLines int
	overwrite    bool
}

func NewEnrichChunkUseCase(
	backend ports.SearchBackend,
	enricher ports.ChunkEnricher,
	store ports.MetadataStore,
	writer ports.MetadataWriter,
	maxKeywords, summaryLines int,
	overwrite bool,
	logger *slog.Logger,
) *EnrichChunkUseCase {
	if maxKeywords <= 0 {
		maxKeywords = 6
	}
	if summaryLines <= 0 {
		summaryLines = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichChunkUseCase{
		backend:      backend,
		enricher:     enricher,
		store:        store,
		writer:       writer,
		logger:       logger,
		maxKeywords:  maxKeywords,
		summaryLines: summaryLines,
		overwrite:    overwrite,
	}
}

func (uc *EnrichChunkUseCase) EnrichByID(ctx context.Context, chunkID string) error {
	chunkID = strings.TrimSpace(chunkID)
	if chunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "enrich chunk", fmt.Errorf("chunk id is empty"))
	}

	if !uc.overwrite {
		existing, err := uc.store.GetMetadata(ctx, chunkID)
		if err == nil && existing != nil && (existing.Summary != "" || len(existing.Keywords) > 0) {
			uc.logger.Debug("enrich_skip_existing", "chunk_id", chunkID)
			return nil
		}
	}

	chunk, err := uc.backend.FetchChunk(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("fetch chunk: %w", err)
	}
	if strings.TrimSpace(chunk.Text) == "" {
		uc.logger.Warn("enrich_skip_empty_text", "chunk_id", chunkID)
		return nil
	}

	meta, err := uc.enricher.EnrichChunk(ctx, *chunk, uc.maxKeywords, uc.summaryLines)
	if err != nil {
		return fmt.Errorf("enrich chunk: %w", err)
	}

	meta.ChunkID = chunk.ID
	meta.DocumentID = chunk.DocumentID
	meta.Keywords = normalizeKeywords(meta.Keywords, uc.maxKeywords)
	meta.EnrichedAt = time.Now().UTC()

	if err := uc.store.UpsertMetadata(ctx, meta); err != nil {
		return fmt.Errorf("persist chunk metadata: %w", err)
	}
	if err := uc.writer.UpdateChunkMetadata(ctx, meta.ChunkID, meta.Summary, meta.Keywords); err != nil {
		return fmt.Errorf("write metadata to search backend: %w", err)
	}

	uc.logger.Info("chunk_enriched", "chunk_id", chunkID, "keywords", len(meta.Keywords))
	return nil
}

// normalizeKeywords trims, deduplicates case-insensitively, and caps the
// model's keyword list.
func normalizeKeywords(raw []string, maxKeywords int) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		cleaned := strings.TrimSpace(item)
		if cleaned == "" {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cleaned)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}
