package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const defaultBatchWorkers = 4

type IndexingOptions struct {
	// Dimension is the deployment-wide embedding size; 0 disables the check here
	// and leaves it to the vector store.
	Dimension    int
	BatchWorkers int
}

// IndexingUseCase writes chunks to the vector store and the lexical engine.
// Writes are not atomic across the two stores.
type IndexingUseCase struct {
	vector   ports.VectorStore
	lexical  ports.LexicalSearchPort
	embedder ports.Embedder

	dimension    int
	batchWorkers int
}

func NewIndexingUseCase(
	vector ports.VectorStore,
	lexical ports.LexicalSearchPort,
	embedder ports.Embedder,
	options IndexingOptions,
) *IndexingUseCase {
	workers := options.BatchWorkers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	return &IndexingUseCase{
		vector:       vector,
		lexical:      lexical,
		embedder:     embedder,
		dimension:    options.Dimension,
		batchWorkers: workers,
	}
}

func (uc *IndexingUseCase) UpsertChunk(ctx context.Context, chunk domain.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if len(chunk.Embedding) == 0 {
		vectors, err := uc.embed(ctx, []string{chunk.EmbeddingText()})
		if err != nil {
			return err
		}
		chunk.Embedding = vectors[0]
	}
	return uc.write(ctx, chunk)
}

// UpsertChunks embeds every chunk that arrives without a vector in one provider call,
// then writes them through a bounded worker pool. All write errors are joined.
// A repeated (project, id) in one batch keeps the last occurrence. The caller's
// slice is never modified.
func (uc *IndexingUseCase) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	batch := dedupeChunks(chunks)
	pending := make([]int, 0, len(batch))
	texts := make([]string, 0, len(batch))
	for i := range batch {
		if len(batch[i].Embedding) == 0 {
			pending = append(pending, i)
			texts = append(texts, batch[i].EmbeddingText())
		}
	}
	if len(pending) > 0 {
		vectors, err := uc.embed(ctx, texts)
		if err != nil {
			return err
		}
		for j, idx := range pending {
			batch[idx].Embedding = vectors[j]
		}
	}

	pool, err := ants.NewPool(uc.batchWorkers)
	if err != nil {
		return fmt.Errorf("create index worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := range batch {
		chunk := batch[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := uc.write(ctx, chunk); err != nil {
				record(fmt.Errorf("chunk %s: %w", chunk.ID, err))
			}
		})
		if submitErr != nil {
			wg.Done()
			record(fmt.Errorf("submit chunk %s: %w", chunk.ID, submitErr))
		}
	}
	wg.Wait()

	return errors.Join(errs...)
}

// dedupeChunks copies chunks, keeping the first position and the last value of each (project, id).
func dedupeChunks(chunks []domain.Chunk) []domain.Chunk {
	type chunkKey struct{ project, id string }
	positions := make(map[chunkKey]int, len(chunks))
	out := make([]domain.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		key := chunkKey{chunk.ProjectID, chunk.ID}
		if pos, ok := positions[key]; ok {
			out[pos] = chunk
			continue
		}
		positions[key] = len(out)
		out = append(out, chunk)
	}
	return out
}

func (uc *IndexingUseCase) DeleteChunk(ctx context.Context, projectID, collection, chunkID string) error {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(chunkID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete chunk", errors.New("project and chunk id are required"))
	}

	var errs []error
	if uc.vector != nil {
		if err := uc.vector.Delete(ctx, projectID, chunkID); err != nil {
			errs = append(errs, fmt.Errorf("delete from vector store: %w", err))
		}
	}
	if uc.lexical != nil {
		if err := uc.lexical.Remove(ctx, projectID, collection, chunkID); err != nil {
			errs = append(errs, fmt.Errorf("remove from lexical index: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (uc *IndexingUseCase) HandleIndexEvent(ctx context.Context, event domain.IndexEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	switch event.Op {
	case domain.IndexOpUpsert:
		chunk := *event.Chunk
		if chunk.ProjectID == "" {
			chunk.ProjectID = event.ProjectID
		}
		return uc.UpsertChunk(ctx, chunk)
	default:
		collection := event.Collection
		if collection == "" && event.Chunk != nil {
			collection = event.Chunk.Collection
		}
		return uc.DeleteChunk(ctx, event.ProjectID, collection, event.ChunkID)
	}
}

func (uc *IndexingUseCase) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if uc.embedder == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "embed chunks", errors.New("chunk has no embedding and no embedding provider is configured"))
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "embed chunks", errors.New("chunk has neither embedding nor text"))
		}
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/texts mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	return vectors, nil
}

func (uc *IndexingUseCase) write(ctx context.Context, chunk domain.Chunk) error {
	if uc.dimension > 0 && len(chunk.Embedding) != uc.dimension {
		return domain.DimensionError("upsert chunk", uc.dimension, len(chunk.Embedding))
	}
	if uc.vector != nil {
		if err := uc.vector.Upsert(ctx, chunk); err != nil {
			return fmt.Errorf("upsert vector store: %w", err)
		}
	}
	if uc.lexical != nil {
		if err := uc.lexical.Upsert(ctx, chunk.ProjectID, chunk.Collection, chunk.LexicalDocument()); err != nil {
			return fmt.Errorf("upsert lexical index: %w", err)
		}
	}
	return nil
}
