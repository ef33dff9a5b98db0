package usecase

import (
	"math"
	"reflect"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.Candidate{
			DocID:       id,
			SourceRank:  i + 1,
			SourceScore: float64(len(ids) - i),
			Payload:     map[string]any{"id": id, "title": "title " + id},
		})
	}
	return out
}

func fusedIDs(fused []domain.FusedCandidate) []string {
	out := make([]string, 0, len(fused))
	for _, c := range fused {
		out = append(out, c.DocID)
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestFuseCandidatesRRFOrdersBothBranchesFirst(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("A", "B", "C"), candidates("B", "D"), 60, 0.5)

	got := fusedIDs(fused)
	want := []string{"B", "A", "D", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}

	b := fused[0]
	if !almostEqual(b.RRFScore, 0.5/62+0.5/61) {
		t.Fatalf("expected B rrf score %f, got %f", 0.5/62+0.5/61, b.RRFScore)
	}
	if b.BM25Rank != 2 || b.VectorRank != 1 {
		t.Fatalf("expected B ranks bm25=2 vector=1, got bm25=%d vector=%d", b.BM25Rank, b.VectorRank)
	}
	if b.Provenance != domain.ProvenanceHybrid {
		t.Fatalf("expected hybrid provenance, got %s", b.Provenance)
	}
	if fused[1].Provenance != domain.ProvenanceBM25 || fused[2].Provenance != domain.ProvenanceVector {
		t.Fatalf("unexpected single-branch provenance: %s, %s", fused[1].Provenance, fused[2].Provenance)
	}
	if !almostEqual(fused[3].RRFScore, 0.5/63) {
		t.Fatalf("expected C rrf score %f, got %f", 0.5/63, fused[3].RRFScore)
	}
}

func TestFuseCandidatesRRFDualBranchBeatsEitherContribution(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("X"), candidates("X"), 60, 0.3)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused candidate, got %d", len(fused))
	}
	lexicalOnly := 0.3 / 61
	vectorOnly := 0.7 / 61
	if fused[0].RRFScore <= lexicalOnly || fused[0].RRFScore <= vectorOnly {
		t.Fatalf("expected dual-branch score above %f and %f, got %f", lexicalOnly, vectorOnly, fused[0].RRFScore)
	}
	if fused[0].Score != fused[0].RRFScore {
		t.Fatalf("expected score to equal rrf score before reranking")
	}
}

func TestFuseCandidatesRRFTieKeepsLexicalFirst(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("A"), candidates("D"), 60, 0.5)
	got := fusedIDs(fused)
	if !reflect.DeepEqual(got, []string{"A", "D"}) {
		t.Fatalf("expected lexical-seen-first tie-break, got %v", got)
	}
	if fused[0].RRFScore != fused[1].RRFScore {
		t.Fatalf("expected tied scores, got %f and %f", fused[0].RRFScore, fused[1].RRFScore)
	}
}

func TestFuseCandidatesRRFDeterministic(t *testing.T) {
	lexical := candidates("A", "B", "C", "E", "F")
	vector := candidates("F", "C", "G", "A")

	first := fuseCandidatesRRF(lexical, vector, 60, 0.5)
	for i := 0; i < 20; i++ {
		again := fuseCandidatesRRF(lexical, vector, 60, 0.5)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("expected identical output on run %d", i)
		}
	}
}

func TestFuseCandidatesRRFEmptyVectorKeepsLexicalOrder(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("A", "B", "C"), nil, 60, 0.4)

	got := fusedIDs(fused)
	if !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected lexical order, got %v", got)
	}
	for i, c := range fused {
		want := 0.4 / float64(60+i+1)
		if !almostEqual(c.RRFScore, want) {
			t.Fatalf("expected %s score %f, got %f", c.DocID, want, c.RRFScore)
		}
	}
}

func TestFuseCandidatesRRFAlphaBounds(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("A"), candidates("B"), 60, 1)
	if fused[0].DocID != "A" || fused[1].RRFScore != 0 {
		t.Fatalf("expected alpha=1 to zero vector contribution, got %+v", fused)
	}

	fused = fuseCandidatesRRF(candidates("A"), candidates("B"), 60, 0)
	if fused[0].DocID != "B" || fused[1].RRFScore != 0 {
		t.Fatalf("expected alpha=0 to zero lexical contribution, got %+v", fused)
	}
}

func TestFuseCandidatesRRFVectorPayloadWins(t *testing.T) {
	lexical := []domain.Candidate{{DocID: "A", Payload: map[string]any{"title": "lexical", "snippet": "kept"}}}
	vector := []domain.Candidate{{DocID: "A", Payload: map[string]any{"title": "vector"}}}

	fused := fuseCandidatesRRF(lexical, vector, 60, 0.5)
	if fused[0].PayloadString("title") != "vector" {
		t.Fatalf("expected vector payload to win, got %q", fused[0].PayloadString("title"))
	}
	if fused[0].PayloadString("snippet") != "kept" {
		t.Fatalf("expected lexical-only field to survive merge")
	}
}

func TestFuseCandidatesRRFSkipsDuplicateWithinBranch(t *testing.T) {
	fused := fuseCandidatesRRF(candidates("A", "A", "B"), nil, 60, 0.5)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused candidates, got %d", len(fused))
	}
	if fused[0].BM25Rank != 1 || !almostEqual(fused[0].RRFScore, 0.5/61) {
		t.Fatalf("expected first occurrence to count once, got rank=%d score=%f", fused[0].BM25Rank, fused[0].RRFScore)
	}
}

func TestLexicalCandidatesKeysByCollectionAndUID(t *testing.T) {
	hits := []domain.LexicalHit{
		{ID: "doc-1", Score: 3},
		{UID: "42", Collection: "docs", Score: 2},
		{Score: 1},
	}
	got := lexicalCandidates(hits)
	if len(got) != 2 {
		t.Fatalf("expected hits without a key to be dropped, got %d", len(got))
	}
	if got[1].DocID != "docs:42" {
		t.Fatalf("expected collection:uid key, got %s", got[1].DocID)
	}
	if got[1].SourceRank != 2 {
		t.Fatalf("expected rank 2, got %d", got[1].SourceRank)
	}
}
