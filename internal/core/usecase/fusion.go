package usecase

import (
	"sort"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

// collectCandidates flattens the two sub-query hit lists into per-leg
// candidate records with 1-based ranks.
func collectCandidates(vector, keyword []domain.ChunkHit) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, 0, len(vector)+len(keyword))
	for i, hit := range vector {
		out = append(out, domain.RetrievalCandidate{
			ChunkID: hit.Chunk.ID,
			Score:   hit.Score,
			Rank:    i + 1,
			Source:  domain.SourceVector,
		})
	}
	for i, hit := range keyword {
		out = append(out, domain.RetrievalCandidate{
			ChunkID: hit.Chunk.ID,
			Score:   hit.Score,
			Rank:    i + 1,
			Source:  domain.SourceKeyword,
		})
	}
	return out
}

// collectChunks indexes hit payloads by chunk id, keeping the richer variant
// when the two legs return the same chunk with different projections.
func collectChunks(vector, keyword []domain.ChunkHit) map[string]domain.Chunk {
	out := make(map[string]domain.Chunk, len(vector)+len(keyword))
	for _, hit := range vector {
		out[hit.Chunk.ID] = preferRicherChunk(out[hit.Chunk.ID], hit.Chunk)
	}
	for _, hit := range keyword {
		out[hit.Chunk.ID] = preferRicherChunk(out[hit.Chunk.ID], hit.Chunk)
	}
	return out
}

// fuseCandidatesRRF merges candidate records with Reciprocal Rank Fusion: a
// chunk at 1-based rank r in a sub-list accrues 1/(rrfK+r), summed across
// lists. Ordering is fused score descending, ties broken by the better
// vector rank, then by chunk id. Output is truncated to mergeTopK.
func fuseCandidatesRRF(
	candidates []domain.RetrievalCandidate,
	chunks map[string]domain.Chunk,
	rrfK, mergeTopK int,
) []domain.FusedChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	scores := make(map[string]float64, len(candidates))
	vectorRanks := make(map[string]int, len(candidates))
	for _, c := range candidates {
		scores[c.ChunkID] += 1.0 / float64(rrfK+c.Rank)
		if c.Source == domain.SourceVector {
			vectorRanks[c.ChunkID] = c.Rank
		}
	}

	out := make([]domain.FusedChunk, 0, len(scores))
	for id, score := range scores {
		out = append(out, domain.FusedChunk{ChunkID: id, Score: score, Chunk: chunks[id]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ri, rj := vectorRanks[out[i].ChunkID], vectorRanks[out[j].ChunkID]
		if ri != rj {
			// Absent from the vector list sorts after any present rank.
			if ri == 0 {
				return false
			}
			if rj == 0 {
				return true
			}
			return ri < rj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if mergeTopK > 0 && len(out) > mergeTopK {
		out = out[:mergeTopK]
	}
	return out
}

// hitsToFused converts a single ranked hit list into fused results keeping
// the backend scores, deduplicated by chunk id on first occurrence.
func hitsToFused(hits []domain.ChunkHit, limit int) []domain.FusedChunk {
	out := make([]domain.FusedChunk, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if _, ok := seen[hit.Chunk.ID]; ok {
			continue
		}
		seen[hit.Chunk.ID] = struct{}{}
		out = append(out, domain.FusedChunk{ChunkID: hit.Chunk.ID, Score: hit.Score, Chunk: hit.Chunk})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func preferRicherChunk(current, candidate domain.Chunk) domain.Chunk {
	if current.ID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Summary == "" && candidate.Summary != "" {
		current.Summary = candidate.Summary
	}
	if len(current.Keywords) == 0 && len(candidate.Keywords) > 0 {
		current.Keywords = candidate.Keywords
	}
	if current.SectionTitle == "" && candidate.SectionTitle != "" {
		current.SectionTitle = candidate.SectionTitle
	}
	return current
}
