package domain

import "time"

// Chunk is one retrievable unit of document text. Chunks are created during
// ingestion and never mutated by the query path; summary and keywords are
// optional and filled in later by the enrichment worker.
type Chunk struct {
	ID           string   `json:"chunk_id"`
	DocumentID   string   `json:"document_id"`
	Text         string   `json:"text"`
	SectionTitle string   `json:"section_title,omitempty"`
	ElementType  string   `json:"element_type,omitempty"`
	PageStart    int      `json:"page_start,omitempty"`
	PageEnd      int      `json:"page_end,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

// ChunkMetadata is the LLM-generated enrichment for one chunk.
type ChunkMetadata struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Summary    string    `json:"summary"`
	Keywords   []string  `json:"keywords"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// DocumentInfo describes one indexed document in the corpus inventory.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}
