package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestUpsertEnsuresCollectionOnce(t *testing.T) {
	var ensureCalls int32
	var pointIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			var body struct {
				Points []struct {
					ID      string         `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode upsert: %v", err)
			}
			pointIDs = append(pointIDs, body.Points[0].ID)
			if body.Points[0].Payload["project_id"] != "p1" {
				t.Fatalf("expected project_id payload, got %v", body.Points[0].Payload)
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := New(server.URL, "chunks", 2)
	chunk := domain.Chunk{ID: "c1", ProjectID: "p1", Collection: "docs", Embedding: []float32{0.1, 0.2}}

	if err := store.Upsert(context.Background(), chunk); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if err := store.Upsert(context.Background(), chunk); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if len(pointIDs) != 2 || pointIDs[0] != pointIDs[1] {
		t.Fatalf("expected stable point id across upserts, got %v", pointIDs)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	store := New("http://127.0.0.1:0", "chunks", 3)
	err := store.Upsert(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p1", Embedding: []float32{1}})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := New(server.URL, "chunks", 0)
	err := store.Upsert(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p1", Embedding: []float32{0.1}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestSimilaritySearchFiltersAndThreshold(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode search: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"chunk_id":"a","title":"A","collection":"docs","metadata":{"lang":"en"}}},
			{"score":0.5,"payload":{"chunk_id":"b","collection":"docs"}}
		]}`))
	}))
	defer server.Close()

	store := New(server.URL, "chunks", 2)
	matches, err := store.SimilaritySearch(context.Background(), "p1", []float32{1, 0}, domain.SimilarityOptions{
		Collections: []string{"docs"},
		Limit:       5,
		Threshold:   0.5,
	})
	if err != nil {
		t.Fatalf("SimilaritySearch() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("expected only hits above threshold, got %+v", matches)
	}
	if matches[0].Metadata["lang"] != "en" {
		t.Fatalf("expected metadata, got %v", matches[0].Metadata)
	}

	filter, _ := captured["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected project and collection conditions, got %v", captured["filter"])
	}
	if captured["score_threshold"] != 0.5 {
		t.Fatalf("expected score threshold 0.5, got %v", captured["score_threshold"])
	}
}

func TestSimilaritySearchFailSoft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := New(server.URL, "chunks", 2)
	matches, err := store.SimilaritySearch(context.Background(), "p1", []float32{1, 0}, domain.SimilarityOptions{Limit: 5})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", matches)
	}
}

func TestDeleteAndCount(t *testing.T) {
	var deleted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/chunks/points/delete":
			var body struct {
				Points []string `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			deleted = append(deleted, body.Points...)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/collections/chunks/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":7}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := New(server.URL, "chunks", 2)
	if err := store.Delete(context.Background(), "p1", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != PointID("p1", "c1") {
		t.Fatalf("expected derived point id, got %v", deleted)
	}

	count, err := store.Count(context.Background(), "p1", "docs")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 7 {
		t.Fatalf("expected count 7, got %d", count)
	}
}

func TestCountMissingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	count, err := New(server.URL, "chunks", 2).Count(context.Background(), "p1", "")
	if err != nil || count != 0 {
		t.Fatalf("expected 0 for missing collection, got %d %v", count, err)
	}
}

func TestPointIDScopedByProject(t *testing.T) {
	if PointID("p1", "c1") == PointID("p2", "c1") {
		t.Fatalf("expected different point ids across projects")
	}
	if PointID("p1", "c1") != PointID("p1", "c1") {
		t.Fatalf("expected deterministic point id")
	}
}
