package usecase

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestIndexingUseCaseUpsertChunkEmbedsMissingVector(t *testing.T) {
	vector := &vectorStoreFake{}
	lexical := &lexicalFake{}
	embedder := &embedderFake{dimension: 4}
	uc := NewIndexingUseCase(vector, lexical, embedder, IndexingOptions{Dimension: 4})

	err := uc.UpsertChunk(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p", Title: "T", Content: "body"})
	if err != nil {
		t.Fatalf("UpsertChunk() error = %v", err)
	}
	if len(embedder.batches) != 1 || embedder.batches[0][0] != "T\n\nbody" {
		t.Fatalf("expected title and content to be embedded, got %v", embedder.batches)
	}
	if len(vector.upserts) != 1 || len(vector.upserts[0].Embedding) != 4 {
		t.Fatalf("expected embedded chunk in vector store, got %+v", vector.upserts)
	}
	if len(lexical.upserts) != 1 || lexical.upserts[0].ID != "c1" {
		t.Fatalf("expected lexical document, got %+v", lexical.upserts)
	}
}

func TestIndexingUseCaseUpsertChunkKeepsProvidedVector(t *testing.T) {
	embedder := &embedderFake{}
	uc := NewIndexingUseCase(&vectorStoreFake{}, &lexicalFake{}, embedder, IndexingOptions{})

	err := uc.UpsertChunk(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p", Embedding: []float32{1, 2}})
	if err != nil {
		t.Fatalf("UpsertChunk() error = %v", err)
	}
	if len(embedder.batches) != 0 {
		t.Fatalf("expected no embed call for provided vector")
	}
}

func TestIndexingUseCaseUpsertChunkDimensionMismatch(t *testing.T) {
	vector := &vectorStoreFake{}
	uc := NewIndexingUseCase(vector, &lexicalFake{}, nil, IndexingOptions{Dimension: 3})

	err := uc.UpsertChunk(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p", Embedding: []float32{1, 2}})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) || !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected dimension mismatch invalid input, got %v", err)
	}
	if len(vector.upserts) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestIndexingUseCaseUpsertChunkValidation(t *testing.T) {
	uc := NewIndexingUseCase(&vectorStoreFake{}, &lexicalFake{}, &embedderFake{}, IndexingOptions{})

	if err := uc.UpsertChunk(context.Background(), domain.Chunk{ProjectID: "p"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing id, got %v", err)
	}
	if err := uc.UpsertChunk(context.Background(), domain.Chunk{ID: "c1", ProjectID: "p"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for chunk without text or vector, got %v", err)
	}
}

func TestIndexingUseCaseUpsertChunksBatchesEmbedding(t *testing.T) {
	vector := &vectorStoreFake{}
	lexical := &lexicalFake{}
	embedder := &embedderFake{}
	uc := NewIndexingUseCase(vector, lexical, embedder, IndexingOptions{BatchWorkers: 2})

	chunks := []domain.Chunk{
		{ID: "c1", ProjectID: "p", Content: "one"},
		{ID: "c2", ProjectID: "p", Embedding: []float32{1, 1, 1}},
		{ID: "c3", ProjectID: "p", Content: "three"},
	}
	if err := uc.UpsertChunks(context.Background(), chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
	if len(embedder.batches) != 1 || len(embedder.batches[0]) != 2 {
		t.Fatalf("expected one embed batch of 2 texts, got %v", embedder.batches)
	}

	ids := make([]string, 0, len(vector.upserts))
	for _, chunk := range vector.upserts {
		ids = append(ids, chunk.ID)
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "c1" || ids[2] != "c3" {
		t.Fatalf("expected all chunks written, got %v", ids)
	}
	if len(lexical.upserts) != 3 {
		t.Fatalf("expected 3 lexical documents, got %d", len(lexical.upserts))
	}
}

func TestIndexingUseCaseUpsertChunksLastDuplicateWins(t *testing.T) {
	vector := &vectorStoreFake{}
	lexical := &lexicalFake{}
	embedder := &embedderFake{dimension: 2}
	uc := NewIndexingUseCase(vector, lexical, embedder, IndexingOptions{})

	chunks := []domain.Chunk{
		{ID: "c1", ProjectID: "p", Content: "old"},
		{ID: "c2", ProjectID: "p", Content: "other"},
		{ID: "c1", ProjectID: "p", Content: "new"},
		{ID: "c1", ProjectID: "q", Content: "other project"},
	}
	if err := uc.UpsertChunks(context.Background(), chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
	if len(embedder.batches) != 1 || len(embedder.batches[0]) != 3 {
		t.Fatalf("expected one embed batch of 3 texts, got %v", embedder.batches)
	}
	if len(vector.upserts) != 3 || len(lexical.upserts) != 3 {
		t.Fatalf("expected 3 writes per store, got %d and %d", len(vector.upserts), len(lexical.upserts))
	}
	for _, chunk := range vector.upserts {
		if chunk.ID == "c1" && chunk.ProjectID == "p" && chunk.Content != "new" {
			t.Fatalf("expected last duplicate in vector store, got %q", chunk.Content)
		}
	}
	for _, doc := range lexical.upserts {
		if doc.Content == "old" {
			t.Fatalf("expected stale duplicate skipped in lexical index")
		}
	}
	for i, chunk := range chunks {
		if chunk.Embedding != nil {
			t.Fatalf("expected caller chunk %d untouched, got embedding %v", i, chunk.Embedding)
		}
	}
}

func TestIndexingUseCaseUpsertChunksJoinsErrors(t *testing.T) {
	uc := NewIndexingUseCase(&vectorStoreFake{err: errors.New("db down")}, &lexicalFake{}, nil, IndexingOptions{})

	err := uc.UpsertChunks(context.Background(), []domain.Chunk{
		{ID: "c1", ProjectID: "p", Embedding: []float32{1}},
		{ID: "c2", ProjectID: "p", Embedding: []float32{1}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two joined errors, got %v", err)
	}
}

func TestIndexingUseCaseDeleteChunk(t *testing.T) {
	vector := &vectorStoreFake{}
	lexical := &lexicalFake{}
	uc := NewIndexingUseCase(vector, lexical, nil, IndexingOptions{})

	if err := uc.DeleteChunk(context.Background(), "p", "docs", "c1"); err != nil {
		t.Fatalf("DeleteChunk() error = %v", err)
	}
	if len(vector.deleted) != 1 || len(lexical.removed) != 1 {
		t.Fatalf("expected delete in both stores, got %v %v", vector.deleted, lexical.removed)
	}
	if err := uc.DeleteChunk(context.Background(), "p", "docs", ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestIndexingUseCaseHandleIndexEvent(t *testing.T) {
	vector := &vectorStoreFake{}
	lexical := &lexicalFake{}
	uc := NewIndexingUseCase(vector, lexical, &embedderFake{}, IndexingOptions{})

	upsert := domain.IndexEvent{
		Op:        domain.IndexOpUpsert,
		ProjectID: "p",
		Chunk:     &domain.Chunk{ID: "c1", ProjectID: "p", Content: "text"},
	}
	if err := uc.HandleIndexEvent(context.Background(), upsert); err != nil {
		t.Fatalf("HandleIndexEvent(upsert) error = %v", err)
	}
	if len(vector.upserts) != 1 {
		t.Fatalf("expected upserted chunk")
	}

	remove := domain.IndexEvent{Op: domain.IndexOpDelete, ProjectID: "p", ChunkID: "c1"}
	if err := uc.HandleIndexEvent(context.Background(), remove); err != nil {
		t.Fatalf("HandleIndexEvent(delete) error = %v", err)
	}
	if len(vector.deleted) != 1 || vector.deleted[0] != "c1" {
		t.Fatalf("expected deleted chunk, got %v", vector.deleted)
	}

	if err := uc.HandleIndexEvent(context.Background(), domain.IndexEvent{Op: "rename"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown op, got %v", err)
	}
}
