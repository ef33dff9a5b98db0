package bm25

import (
	"context"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		project    string
		collection string
		doc        domain.LexicalDocument
	}{
		{"p1", "docs", domain.LexicalDocument{ID: "a", Title: "Reciprocal rank fusion", Content: "combining rankings", Metadata: map[string]any{"lang": "en"}}},
		{"p1", "docs", domain.LexicalDocument{ID: "b", Title: "Vector search", Content: "cosine similarity and rank", Metadata: map[string]any{"lang": "de"}}},
		{"p1", "notes", domain.LexicalDocument{ID: "c", Title: "Meeting notes", Content: "nothing about ranking"}},
		{"p2", "docs", domain.LexicalDocument{ID: "a", Title: "Other project rank", Content: "rank rank rank"}},
	}
	for _, d := range docs {
		if err := idx.Upsert(ctx, d.project, d.collection, d.doc); err != nil {
			t.Fatalf("Upsert(%s) error = %v", d.doc.ID, err)
		}
	}
}

func hitIDs(result *domain.LexicalResult) []string {
	out := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		out = append(out, hit.ID)
	}
	return out
}

func TestSearchScopesByProject(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	result, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{Q: "rank", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("expected 2 hits in p1, got %v", hitIDs(result))
	}
	if result.Hits[0].ID != "a" {
		t.Fatalf("expected title match first, got %v", hitIDs(result))
	}
	if result.Hits[0].Collection != "docs" {
		t.Fatalf("expected collection field, got %q", result.Hits[0].Collection)
	}
	if result.Hits[0].Fields["title"] != "Reciprocal rank fusion" {
		t.Fatalf("expected stored title, got %v", result.Hits[0].Fields["title"])
	}
	if result.EstimatedTotalHits != 2 {
		t.Fatalf("expected total 2, got %d", result.EstimatedTotalHits)
	}
}

func TestSearchFiltersCollectionsAndMetadata(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	result, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{
		Collections: []string{"docs"},
		Filters:     map[string][]any{"lang": {"de", "fr"}},
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if ids := hitIDs(result); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected only b, got %v", ids)
	}
	metadata, _ := result.Hits[0].Fields["metadata"].(map[string]any)
	if metadata["lang"] != "de" {
		t.Fatalf("expected metadata in fields, got %v", result.Hits[0].Fields)
	}
}

func TestSearchCollectionFilterKey(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	result, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{
		Filters: map[string][]any{"collection": {"notes"}},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if ids := hitIDs(result); len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("expected only c, got %v", ids)
	}
}

func TestSearchPlainKeysAddressMetadata(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	result, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{
		Filters: map[string][]any{"title": {"Vector search"}},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("expected title key to address metadata.title, got %v", hitIDs(result))
	}

	result, err = idx.Search(context.Background(), "p1", domain.LexicalQuery{
		Filters: map[string][]any{"metadata.lang": {"en"}},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if ids := hitIDs(result); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected only a, got %v", ids)
	}
}

func TestSearchRejectsDottedNonMetadataKey(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	for _, key := range []string{"content.raw", "metadata.", " lang"} {
		_, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{
			Filters: map[string][]any{key: {"x"}},
		})
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for key %q, got %v", key, err)
		}
	}
}

func TestSearchBlankQueryMatchesAll(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)

	result, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 3 {
		t.Fatalf("expected all 3 p1 documents, got %v", hitIDs(result))
	}
}

func TestUpsertReplacesAndRemoveDeletes(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, "p1", "docs", domain.LexicalDocument{ID: "a", Content: "first version"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, "p1", "docs", domain.LexicalDocument{ID: "a", Content: "second version"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	count, err := idx.DocCount()
	if err != nil || count != 1 {
		t.Fatalf("expected 1 document, got %d %v", count, err)
	}

	result, _ := idx.Search(ctx, "p1", domain.LexicalQuery{Q: "first", Limit: 10})
	if len(result.Hits) != 0 {
		t.Fatalf("expected replaced content to be gone, got %v", hitIDs(result))
	}

	if err := idx.Remove(ctx, "p1", "docs", "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	count, _ = idx.DocCount()
	if count != 0 {
		t.Fatalf("expected empty index, got %d", count)
	}
}

func TestClosedIndexFails(t *testing.T) {
	idx, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = idx.Close()
	if _, err := idx.Search(context.Background(), "p1", domain.LexicalQuery{Q: "x"}); err == nil {
		t.Fatalf("expected error on closed index")
	}
}
