package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// HybridSearcher is the inbound contract for fused lexical + vector retrieval.
type HybridSearcher interface {
	Search(ctx context.Context, project string, query domain.SearchQuery) (*domain.SearchResponse, error)
}

// ChunkIndexer is the inbound contract for the synchronous write path.
type ChunkIndexer interface {
	UpsertChunk(ctx context.Context, chunk domain.Chunk) error
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
	DeleteChunk(ctx context.Context, projectID, collection, chunkID string) error
}

// IndexEventHandler applies asynchronous index events.
type IndexEventHandler interface {
	HandleIndexEvent(ctx context.Context, event domain.IndexEvent) error
}
