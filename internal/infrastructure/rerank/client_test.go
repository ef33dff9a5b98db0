package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestRerankSendsPassagesAndParsesResults(t *testing.T) {
	var captured rerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"b","score":0.9},{"id":"a"}]}`))
	}))
	defer server.Close()

	score := 0.016
	client := New(server.URL, Options{Model: "bge-reranker"})
	judgments, err := client.Rerank(context.Background(), "what is rrf", []domain.Passage{
		{ID: "a", Text: "alpha", Score: &score},
		{ID: "b", Text: "beta", Title: "B"},
	})
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(judgments) != 2 || judgments[0].ID != "b" || *judgments[0].Score != 0.9 {
		t.Fatalf("unexpected judgments %+v", judgments)
	}
	if judgments[1].Score != nil {
		t.Fatalf("expected missing score to stay nil")
	}
	if captured.Query != "what is rrf" || captured.Model != "bge-reranker" || len(captured.Passages) != 2 {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Passages[1].Title != "B" {
		t.Fatalf("expected passage title, got %q", captured.Passages[1].Title)
	}
}

func TestRerankEmptyResultsIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	if _, err := New(server.URL, Options{}).Rerank(context.Background(), "q", []domain.Passage{{ID: "a"}}); err == nil {
		t.Fatalf("expected error for empty results")
	}
}

func TestRerankStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, Options{}).Rerank(context.Background(), "q", []domain.Passage{{ID: "a"}})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
