package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pgv "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Store is the Postgres + pgvector VectorStore. Similarity is 1 - cosine distance.
type Store struct {
	db        *sql.DB
	dimension int
	logger    *slog.Logger
}

func New(db *sql.DB, dimension int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dimension: dimension, logger: logger}
}

func (s *Store) Upsert(ctx context.Context, chunk domain.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if s.dimension > 0 && len(chunk.Embedding) != s.dimension {
		return domain.DimensionError("pgvector upsert", s.dimension, len(chunk.Embedding))
	}

	metadata := chunk.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO chunk_embeddings (
	project_id, id, collection, title, content, url, metadata, embedding, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (project_id, id) DO UPDATE SET
	collection = EXCLUDED.collection,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	url = EXCLUDED.url,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at
`,
		chunk.ProjectID, chunk.ID, chunk.Collection, chunk.Title, chunk.Content, chunk.URL,
		metadataJSON, pgv.NewVector(chunk.Embedding), createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk embedding: %w", err)
	}
	return nil
}

// SimilaritySearch is fail-soft: query errors are logged and yield an empty result.
func (s *Store) SimilaritySearch(ctx context.Context, projectID string, embedding []float32, opts domain.SimilarityOptions) ([]domain.VectorMatch, error) {
	matches, err := s.similaritySearch(ctx, projectID, embedding, opts)
	if err != nil {
		s.logger.Warn("vector_search_failed", "backend", "pgvector", "project", projectID, "error", err)
		return []domain.VectorMatch{}, nil
	}
	return matches, nil
}

func (s *Store) similaritySearch(ctx context.Context, projectID string, embedding []float32, opts domain.SimilarityOptions) ([]domain.VectorMatch, error) {
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, domain.DimensionError("pgvector search", s.dimension, len(embedding))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}

	args := []any{projectID, pgv.NewVector(embedding), limit}
	var collectionFilter string
	if len(opts.Collections) > 0 {
		placeholders := make([]string, 0, len(opts.Collections))
		for _, collection := range opts.Collections {
			args = append(args, collection)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		collectionFilter = " AND collection IN (" + strings.Join(placeholders, ", ") + ")"
	}

	// The inner ORDER BY must stay a bare distance expression so the HNSW index serves it.
	query := `
SELECT id, collection, title, content, url, metadata, distance
FROM (
	SELECT id, collection, COALESCE(title, '') AS title, COALESCE(content, '') AS content,
		COALESCE(url, '') AS url, metadata, created_at, embedding <=> $2 AS distance
	FROM chunk_embeddings
	WHERE project_id = $1` + collectionFilter + `
	ORDER BY embedding <=> $2
	LIMIT $3
) nearest
ORDER BY distance ASC, created_at ASC, id ASC
`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.VectorMatch, 0, limit)
	for rows.Next() {
		var match domain.VectorMatch
		var metadataRaw []byte
		var distance float64
		if err := rows.Scan(
			&match.ID, &match.Collection, &match.Title, &match.Content, &match.URL, &metadataRaw, &distance,
		); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		match.Similarity = 1 - distance
		if match.Similarity <= opts.Threshold {
			continue
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &match.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}
	return out, nil
}

// Delete is idempotent; a missing row is not an error.
func (s *Store) Delete(ctx context.Context, projectID, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE project_id = $1 AND id = $2`, projectID, id); err != nil {
		return fmt.Errorf("delete chunk embedding: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, projectID, collection string) (int, error) {
	query := `SELECT COUNT(*) FROM chunk_embeddings WHERE project_id = $1`
	args := []any{projectID}
	if collection != "" {
		query += ` AND collection = $2`
		args = append(args, collection)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunk embeddings: %w", err)
	}
	return count, nil
}
