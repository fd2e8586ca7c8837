package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

// ChunkMetadataRepository is the system of record for enrichment output.
// The search backend holds a copy for query-time visibility; this table is
// what the inventory endpoint and re-enrichment decisions read.
type ChunkMetadataRepository struct {
	db *sql.DB
}

func NewChunkMetadataRepository(db *sql.DB) *ChunkMetadataRepository {
	return &ChunkMetadataRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkMetadataRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunk_metadata (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
	enriched_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_metadata_document_id ON chunk_metadata(document_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ChunkMetadataRepository) UpsertMetadata(ctx context.Context, meta domain.ChunkMetadata) error {
	keywordsJSON, err := json.Marshal(meta.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chunk_metadata (chunk_id, document_id, summary, keywords, enriched_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (chunk_id) DO UPDATE
SET document_id = EXCLUDED.document_id,
	summary = EXCLUDED.summary,
	keywords = EXCLUDED.keywords,
	enriched_at = EXCLUDED.enriched_at
`,
		meta.ChunkID, meta.DocumentID, meta.Summary, keywordsJSON, meta.EnrichedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk metadata: %w", err)
	}
	return nil
}

func (r *ChunkMetadataRepository) GetMetadata(ctx context.Context, chunkID string) (*domain.ChunkMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT chunk_id, document_id, summary, keywords, enriched_at
FROM chunk_metadata
WHERE chunk_id = $1
`, chunkID)

	var meta domain.ChunkMetadata
	var keywordsRaw []byte

	err := row.Scan(&meta.ChunkID, &meta.DocumentID, &meta.Summary, &keywordsRaw, &meta.EnrichedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk metadata %q: %w", chunkID, domain.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("scan chunk metadata: %w", err)
	}

	if err := json.Unmarshal(keywordsRaw, &meta.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	return &meta, nil
}

func (r *ChunkMetadataRepository) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, COUNT(*) AS chunk_count
FROM chunk_metadata
GROUP BY document_id
ORDER BY document_id
`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentInfo
	for rows.Next() {
		var info domain.DocumentInfo
		if err := rows.Scan(&info.DocumentID, &info.ChunkCount); err != nil {
			return nil, fmt.Errorf("scan document info: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
