package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// pointNamespace derives stable point ids so an upsert with the same project and chunk id overwrites.
var pointNamespace = uuid.MustParse("6f1c3b4e-9a57-4d0c-8a3e-2c5b7e9d1f20")

// Store keeps every project in one Qdrant collection and scopes reads and writes
// by the project_id payload field.
type Store struct {
	baseURL    string
	collection string
	dimension  int
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger

	ensureMu          sync.Mutex
	ensuredCollection bool
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(baseURL, collection string, dimension int) *Store {
	return NewWithOptions(baseURL, collection, dimension, Options{})
}

func NewWithOptions(baseURL, collection string, dimension int, options Options) *Store {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
		logger:     logger,
	}
}

func PointID(projectID, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(projectID+"/"+chunkID)).String()
}

func (s *Store) Upsert(ctx context.Context, chunk domain.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if s.dimension > 0 && len(chunk.Embedding) != s.dimension {
		return domain.DimensionError("qdrant upsert", s.dimension, len(chunk.Embedding))
	}
	if err := s.ensureCollection(ctx, len(chunk.Embedding)); err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	payload := map[string]any{
		"project_id": chunk.ProjectID,
		"collection": chunk.Collection,
		"chunk_id":   chunk.ID,
		"title":      chunk.Title,
		"content":    chunk.Content,
		"url":        chunk.URL,
		"created_at": createdAt.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if len(chunk.Metadata) > 0 {
		payload["metadata"] = chunk.Metadata
	}

	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":      PointID(chunk.ProjectID, chunk.ID),
			"vector":  chunk.Embedding,
			"payload": payload,
		}},
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	return s.do(ctx, http.MethodPut, path, reqBody, nil, "upsert")
}

// SimilaritySearch is fail-soft: backend errors are logged and yield an empty result.
func (s *Store) SimilaritySearch(ctx context.Context, projectID string, embedding []float32, opts domain.SimilarityOptions) ([]domain.VectorMatch, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		s.logger.Warn("vector_search_failed",
			"backend", "qdrant",
			"project", projectID,
			"error", domain.DimensionError("qdrant search", s.dimension, len(embedding)),
		)
		return []domain.VectorMatch{}, nil
	}

	reqBody := map[string]any{
		"vector":          embedding,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": opts.Threshold,
		"filter":          searchFilter(projectID, opts.Collections),
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	if err := s.do(ctx, http.MethodPost, path, reqBody, &searchResp, "search"); err != nil {
		s.logger.Warn("vector_search_failed", "backend", "qdrant", "project", projectID, "error", err)
		return []domain.VectorMatch{}, nil
	}

	out := make([]domain.VectorMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		// score_threshold is inclusive on the Qdrant side.
		if r.Score <= opts.Threshold {
			continue
		}
		metadata, _ := r.Payload["metadata"].(map[string]any)
		out = append(out, domain.VectorMatch{
			ID:         getStringPayload(r.Payload, "chunk_id"),
			Title:      getStringPayload(r.Payload, "title"),
			Content:    getStringPayload(r.Payload, "content"),
			URL:        getStringPayload(r.Payload, "url"),
			Collection: getStringPayload(r.Payload, "collection"),
			Metadata:   metadata,
			Similarity: r.Score,
		})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, projectID, id string) error {
	reqBody := map[string]any{"points": []string{PointID(projectID, id)}}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection)
	err := s.do(ctx, http.MethodPost, path, reqBody, nil, "delete")
	if isMissingCollection(err) {
		return nil
	}
	return err
}

func (s *Store) Count(ctx context.Context, projectID, collection string) (int, error) {
	var collections []string
	if collection != "" {
		collections = []string{collection}
	}
	reqBody := map[string]any{
		"exact":  true,
		"filter": searchFilter(projectID, collections),
	}
	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collection)
	if err := s.do(ctx, http.MethodPost, path, reqBody, &countResp, "count"); err != nil {
		if isMissingCollection(err) {
			return 0, nil
		}
		return 0, err
	}
	return countResp.Result.Count, nil
}

func searchFilter(projectID string, collections []string) map[string]any {
	must := []map[string]any{
		{"key": "project_id", "match": map[string]any{"value": projectID}},
	}
	if len(collections) > 0 {
		must = append(must, map[string]any{
			"key":   "collection",
			"match": map[string]any{"any": collections},
		})
	}
	return map[string]any{"must": must}
}

func (s *Store) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureMu.Lock()
	if s.ensuredCollection {
		s.ensureMu.Unlock()
		return nil
	}
	s.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, reqBody, nil, "ensure_collection")
	// 409 when the collection already exists.
	if err != nil && !resilience.HasStatus(err, http.StatusConflict) {
		return err
	}

	s.ensureMu.Lock()
	s.ensuredCollection = true
	s.ensureMu.Unlock()
	return nil
}

func (s *Store) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("qdrant", operation, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}

	err = resilience.Run(ctx, s.executor, "qdrant."+operation, call, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary("qdrant "+operation, err, resilience.ClassifyHTTPError)
}

func isMissingCollection(err error) bool {
	return resilience.HasStatus(err, http.StatusNotFound)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
