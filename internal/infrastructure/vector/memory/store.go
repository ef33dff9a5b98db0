package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Store is an in-process VectorStore for tests and single-node setups.
// It scans every chunk of a project; ties keep insertion order.
type Store struct {
	dimension int

	mu       sync.RWMutex
	projects map[string]*projectIndex
}

type projectIndex struct {
	order  []string
	chunks map[string]domain.Chunk
}

func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		projects:  make(map[string]*projectIndex),
	}
}

func (s *Store) Upsert(_ context.Context, chunk domain.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if s.dimension > 0 && len(chunk.Embedding) != s.dimension {
		return domain.DimensionError("memory upsert", s.dimension, len(chunk.Embedding))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.projects[chunk.ProjectID]
	if !ok {
		idx = &projectIndex{chunks: make(map[string]domain.Chunk)}
		s.projects[chunk.ProjectID] = idx
	}

	now := time.Now().UTC()
	if existing, ok := idx.chunks[chunk.ID]; ok {
		chunk.CreatedAt = existing.CreatedAt
	} else {
		idx.order = append(idx.order, chunk.ID)
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
	}
	chunk.UpdatedAt = now
	chunk.Embedding = slices.Clone(chunk.Embedding)
	idx.chunks[chunk.ID] = chunk
	return nil
}

func (s *Store) SimilaritySearch(_ context.Context, projectID string, embedding []float32, opts domain.SimilarityOptions) ([]domain.VectorMatch, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return []domain.VectorMatch{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.projects[projectID]
	if !ok {
		return []domain.VectorMatch{}, nil
	}

	out := make([]domain.VectorMatch, 0, len(idx.order))
	for _, id := range idx.order {
		chunk := idx.chunks[id]
		if len(opts.Collections) > 0 && !slices.Contains(opts.Collections, chunk.Collection) {
			continue
		}
		if len(chunk.Embedding) != len(embedding) {
			continue
		}
		similarity := 1 - float64(hnsw.CosineDistance(embedding, chunk.Embedding))
		if similarity <= opts.Threshold {
			continue
		}
		out = append(out, domain.VectorMatch{
			ID:         chunk.ID,
			Title:      chunk.Title,
			Content:    chunk.Content,
			URL:        chunk.URL,
			Collection: chunk.Collection,
			Metadata:   chunk.Metadata,
			Similarity: similarity,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	if _, ok := idx.chunks[id]; !ok {
		return nil
	}
	delete(idx.chunks, id)
	idx.order = slices.DeleteFunc(idx.order, func(existing string) bool { return existing == id })
	return nil
}

func (s *Store) Count(_ context.Context, projectID, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.projects[projectID]
	if !ok {
		return 0, nil
	}
	if collection == "" {
		return len(idx.chunks), nil
	}
	count := 0
	for _, chunk := range idx.chunks {
		if chunk.Collection == collection {
			count++
		}
	}
	return count, nil
}
