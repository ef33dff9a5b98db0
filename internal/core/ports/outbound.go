package ports

import (
	"context"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// VectorStore stores chunk embeddings and answers nearest-neighbor queries.
//
// SimilaritySearch is fail-soft in every bundled adapter: backend errors are logged
// and reported as an empty result with a nil error. Writes always surface errors.
type VectorStore interface {
	SimilaritySearch(ctx context.Context, projectID string, embedding []float32, opts domain.SimilarityOptions) ([]domain.VectorMatch, error)
	Upsert(ctx context.Context, chunk domain.Chunk) error
	Delete(ctx context.Context, projectID, id string) error
	Count(ctx context.Context, projectID, collection string) (int, error)
}

// LexicalSearchPort is any term-matching engine. Its ranking formula is opaque to the retriever.
type LexicalSearchPort interface {
	Upsert(ctx context.Context, project, collection string, doc domain.LexicalDocument) error
	Remove(ctx context.Context, project, collection, id string) error
	Search(ctx context.Context, project string, query domain.LexicalQuery) (*domain.LexicalResult, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RelevanceJudge re-orders passages for a query. Judgments come back in the desired order.
type RelevanceJudge interface {
	Rerank(ctx context.Context, query string, passages []domain.Passage) ([]domain.Judgment, error)
}

// IndexEventQueue publishes/consumes asynchronous index events.
type IndexEventQueue interface {
	PublishIndexEvent(ctx context.Context, event domain.IndexEvent) error
	SubscribeIndexEvents(ctx context.Context, handler func(context.Context, domain.IndexEvent) error) error
}

// RetrievalObserver receives per-stage outcomes from the retriever.
type RetrievalObserver interface {
	ObserveBranch(branch string, ok bool, candidates int, duration time.Duration)
	ObserveRerank(outcome string, duration time.Duration)
	ObserveSearch(resp *domain.SearchResponse)
}
