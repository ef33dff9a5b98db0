package usecase

import (
	"sort"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// fusionAccumulator keeps fused entries in first-seen order so that a stable sort
// resolves score ties in favour of documents seen earlier (lexical before vector).
type fusionAccumulator struct {
	entries []*domain.FusedCandidate
	index   map[string]int
}

func newFusionAccumulator(capacity int) *fusionAccumulator {
	return &fusionAccumulator{
		entries: make([]*domain.FusedCandidate, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

func (a *fusionAccumulator) entry(docID string) *domain.FusedCandidate {
	if pos, ok := a.index[docID]; ok {
		return a.entries[pos]
	}
	fused := &domain.FusedCandidate{DocID: docID}
	a.index[docID] = len(a.entries)
	a.entries = append(a.entries, fused)
	return fused
}

// fuseCandidatesRRF merges the two branch rankings with weighted Reciprocal Rank Fusion:
// score(d) = alpha/(k+rank_lexical) + (1-alpha)/(k+rank_vector).
func fuseCandidatesRRF(lexical, vector []domain.Candidate, k int, alpha float64) []domain.FusedCandidate {
	if k <= 0 {
		k = domain.DefaultRRFK
	}

	acc := newFusionAccumulator(len(lexical) + len(vector))

	for pos, c := range lexical {
		rank := pos + 1
		fused := acc.entry(c.DocID)
		if fused.BM25Rank > 0 {
			continue
		}
		fused.BM25Rank = rank
		fused.BM25Score = c.SourceScore
		fused.RRFScore += alpha / float64(k+rank)
		fused.Payload = mergePayload(fused.Payload, c.Payload)
		fused.Provenance = domain.ProvenanceBM25
	}

	for pos, c := range vector {
		rank := pos + 1
		fused := acc.entry(c.DocID)
		if fused.VectorRank > 0 {
			continue
		}
		fused.VectorRank = rank
		fused.VectorScore = c.SourceScore
		fused.RRFScore += (1 - alpha) / float64(k+rank)
		fused.Payload = mergePayload(fused.Payload, c.Payload)
		if fused.BM25Rank > 0 {
			fused.Provenance = domain.ProvenanceHybrid
		} else {
			fused.Provenance = domain.ProvenanceVector
		}
	}

	out := make([]domain.FusedCandidate, 0, len(acc.entries))
	for _, fused := range acc.entries {
		fused.Score = fused.RRFScore
		out = append(out, *fused)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RRFScore > out[j].RRFScore
	})
	return out
}

// mergePayload copies base and applies overlay on top of it.
func mergePayload(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overlay {
		out[key] = value
	}
	return out
}

func trimCandidates(fused []domain.FusedCandidate, limit int) []domain.FusedCandidate {
	if limit <= 0 || len(fused) <= limit {
		return fused
	}
	return fused[:limit]
}

// lexicalCandidates ranks lexical hits by their position. Hits without a stable id are
// keyed by "{collection}:{uid}"; hits with neither are dropped.
func lexicalCandidates(hits []domain.LexicalHit) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(hits))
	for _, hit := range hits {
		docID := lexicalHitKey(hit)
		if docID == "" {
			continue
		}
		payload := make(map[string]any, len(hit.Fields)+2)
		for key, value := range hit.Fields {
			payload[key] = value
		}
		if hit.Collection != "" {
			payload["collection"] = hit.Collection
		}
		if _, ok := payload["id"]; !ok {
			payload["id"] = docID
		}
		out = append(out, domain.Candidate{
			DocID:       docID,
			SourceRank:  len(out) + 1,
			SourceScore: hit.Score,
			Payload:     payload,
		})
	}
	return out
}

func lexicalHitKey(hit domain.LexicalHit) string {
	if hit.ID != "" {
		return hit.ID
	}
	if hit.UID == "" {
		return ""
	}
	return hit.Collection + ":" + hit.UID
}

func vectorCandidates(matches []domain.VectorMatch) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(matches))
	for _, match := range matches {
		if match.ID == "" {
			continue
		}
		payload := map[string]any{
			"id":         match.ID,
			"collection": match.Collection,
			"similarity": match.Similarity,
		}
		setIfNotEmpty(payload, "title", match.Title)
		setIfNotEmpty(payload, "content", match.Content)
		setIfNotEmpty(payload, "url", match.URL)
		if len(match.Metadata) > 0 {
			payload["metadata"] = match.Metadata
		}
		out = append(out, domain.Candidate{
			DocID:       match.ID,
			SourceRank:  len(out) + 1,
			SourceScore: match.Similarity,
			Payload:     payload,
		})
	}
	return out
}

func setIfNotEmpty(payload map[string]any, key, value string) {
	if value != "" {
		payload[key] = value
	}
}

func candidateIDs(candidates []domain.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.DocID)
	}
	return out
}
