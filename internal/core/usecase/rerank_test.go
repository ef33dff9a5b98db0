package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type judgeFake struct {
	judgments []domain.Judgment
	err       error
	calls     int
	query     string
	passages  []domain.Passage
}

func (f *judgeFake) Rerank(_ context.Context, query string, passages []domain.Passage) ([]domain.Judgment, error) {
	f.calls++
	f.query = query
	f.passages = passages
	if f.err != nil {
		return nil, f.err
	}
	return f.judgments, nil
}

func scoreOf(v float64) *float64 { return &v }

func rerankInput() []domain.FusedCandidate {
	return fuseCandidatesRRF(candidates("A", "B", "C"), candidates("B"), 60, 0.5)
}

func TestNewRerankerNilJudge(t *testing.T) {
	if NewReranker(nil) != nil {
		t.Fatalf("expected nil reranker without a judge")
	}
}

func TestRerankerAppliesJudgedOrder(t *testing.T) {
	judge := &judgeFake{judgments: []domain.Judgment{
		{ID: "C", Score: scoreOf(0.95)},
		{ID: "A", Score: scoreOf(0.40)},
		{ID: "B", Score: scoreOf(0.10)},
	}}
	out, err := NewReranker(judge).Rerank(context.Background(), "query", rerankInput())
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if got := fusedIDs(out); !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Fatalf("expected judged order, got %v", got)
	}
	if out[0].Score != 0.95 {
		t.Fatalf("expected judge score, got %f", out[0].Score)
	}
	if out[0].RRFScore == 0 {
		t.Fatalf("expected rrf score to be kept")
	}
	if out[2].Provenance != "hybrid+reranked" {
		t.Fatalf("expected hybrid+reranked provenance, got %s", out[2].Provenance)
	}
	if judge.query != "query" || len(judge.passages) != 3 {
		t.Fatalf("unexpected judge input: %q %d", judge.query, len(judge.passages))
	}
	if judge.passages[0].Title != "title B" {
		t.Fatalf("expected passage title from payload, got %q", judge.passages[0].Title)
	}
}

func TestRerankerSynthesizesMissingScores(t *testing.T) {
	judge := &judgeFake{judgments: []domain.Judgment{{ID: "C"}, {ID: "B"}, {ID: "A"}}}
	out, err := NewReranker(judge).Rerank(context.Background(), "q", rerankInput())
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []float64{1.0, 0.9, 0.8}
	for i, c := range out {
		if !almostEqual(c.Score, want[i]) {
			t.Fatalf("expected synthetic score %f at %d, got %f", want[i], i, c.Score)
		}
	}
}

func TestRerankerAppendsUnjudgedInFusedOrder(t *testing.T) {
	judge := &judgeFake{judgments: []domain.Judgment{{ID: "C", Score: scoreOf(0.9)}, {ID: "unknown"}}}
	out, err := NewReranker(judge).Rerank(context.Background(), "q", rerankInput())
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if got := fusedIDs(out); !reflect.DeepEqual(got, []string{"C", "B", "A"}) {
		t.Fatalf("expected unjudged candidates after judged ones, got %v", got)
	}
	if out[1].Provenance != domain.ProvenanceHybrid {
		t.Fatalf("expected unjudged candidate provenance unchanged, got %s", out[1].Provenance)
	}
}

func TestRerankerFallsBackOnError(t *testing.T) {
	input := rerankInput()
	out, err := NewReranker(&judgeFake{err: errors.New("judge down")}).Rerank(context.Background(), "q", input)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !reflect.DeepEqual(out, input) {
		t.Fatalf("expected fused order on failure")
	}
}

func TestRerankerRejectsUnknownIDs(t *testing.T) {
	input := rerankInput()
	out, err := NewReranker(&judgeFake{judgments: []domain.Judgment{{ID: "zzz"}}}).Rerank(context.Background(), "q", input)
	if !errors.Is(err, errNoUsableJudgments) {
		t.Fatalf("expected errNoUsableJudgments, got %v", err)
	}
	if !reflect.DeepEqual(out, input) {
		t.Fatalf("expected fused order on malformed judgments")
	}
}

func TestMarkRerankedIdempotent(t *testing.T) {
	if got := markReranked(""); got != domain.ProvenanceReranked {
		t.Fatalf("expected reranked, got %s", got)
	}
	once := markReranked(domain.ProvenanceBM25)
	if once != "bm25+reranked" {
		t.Fatalf("expected bm25+reranked, got %s", once)
	}
	if twice := markReranked(once); twice != once {
		t.Fatalf("expected idempotent mark, got %s", twice)
	}
}
