package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

var errNoUsableJudgments = errors.New("relevance judge returned no known candidates")

// Reranker re-scores a fused list through an external relevance judge.
type Reranker struct {
	judge ports.RelevanceJudge
}

// NewReranker returns nil when judge is nil so callers can treat reranking as disabled.
func NewReranker(judge ports.RelevanceJudge) *Reranker {
	if judge == nil {
		return nil
	}
	return &Reranker{judge: judge}
}

// Rerank returns the judged order. On any failure it returns the input unchanged
// together with the error so the caller can log it and carry on.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []domain.FusedCandidate) ([]domain.FusedCandidate, error) {
	if r == nil || r.judge == nil {
		return fused, errors.New("reranker is not configured")
	}
	if len(fused) == 0 {
		return fused, nil
	}

	judgments, err := r.judge.Rerank(ctx, query, buildPassages(fused))
	if err != nil {
		return fused, fmt.Errorf("rerank: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fused, fmt.Errorf("rerank: %w", err)
	}

	out, err := restitchJudgments(fused, judgments)
	if err != nil {
		return fused, fmt.Errorf("rerank: %w", err)
	}
	return out, nil
}

func buildPassages(fused []domain.FusedCandidate) []domain.Passage {
	passages := make([]domain.Passage, 0, len(fused))
	for _, c := range fused {
		score := c.Score
		passages = append(passages, domain.Passage{
			ID:    c.DocID,
			Text:  c.PayloadString("content"),
			Title: c.PayloadString("title"),
			URL:   c.PayloadString("url"),
			Score: &score,
		})
	}
	return passages
}

// restitchJudgments maps judgments back onto the full fused records. Candidates the
// judge left out keep their fused order after the judged ones.
func restitchJudgments(fused []domain.FusedCandidate, judgments []domain.Judgment) ([]domain.FusedCandidate, error) {
	byID := make(map[string]int, len(fused))
	for i, c := range fused {
		if _, ok := byID[c.DocID]; !ok {
			byID[c.DocID] = i
		}
	}

	used := make([]bool, len(fused))
	out := make([]domain.FusedCandidate, 0, len(fused))
	for i, judgment := range judgments {
		idx, ok := byID[judgment.ID]
		if !ok || used[idx] {
			continue
		}
		used[idx] = true

		c := fused[idx]
		if judgment.Score != nil {
			c.Score = *judgment.Score
		} else {
			c.Score = 1.0 - float64(i)*0.1
		}
		c.Provenance = markReranked(c.Provenance)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errNoUsableJudgments
	}

	for i, c := range fused {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

func markReranked(p domain.Provenance) domain.Provenance {
	current := strings.TrimSpace(string(p))
	if current == "" {
		return domain.ProvenanceReranked
	}
	if strings.HasSuffix(current, "+"+string(domain.ProvenanceReranked)) || current == string(domain.ProvenanceReranked) {
		return p
	}
	return domain.Provenance(current + "+" + string(domain.ProvenanceReranked))
}
