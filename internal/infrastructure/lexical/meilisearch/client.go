package meilisearch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// Client maps each project to one Meilisearch index. Writes are enqueued as
// Meilisearch tasks and become searchable asynchronously.
type Client struct {
	service  meili.ServiceManager
	executor *resilience.Executor

	settingsMu sync.Mutex
	configured map[string]bool
}

type Options struct {
	APIKey             string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientOptions := []meili.Option{meili.WithCustomClient(&http.Client{Timeout: timeout})}
	if options.APIKey != "" {
		clientOptions = append(clientOptions, meili.WithAPIKey(options.APIKey))
	}
	return &Client{
		service:    meili.New(strings.TrimRight(baseURL, "/"), clientOptions...),
		executor:   options.ResilienceExecutor,
		configured: make(map[string]bool),
	}
}

// documentUID is a primary key Meilisearch accepts for any chunk id.
func documentUID(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

func (c *Client) Upsert(ctx context.Context, project, collection string, doc domain.LexicalDocument) error {
	if strings.TrimSpace(project) == "" || strings.TrimSpace(doc.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "meilisearch upsert", fmt.Errorf("project and id are required"))
	}
	if err := c.ensureSettings(ctx, project); err != nil {
		return err
	}

	documents := []map[string]any{{
		"uid":        documentUID(doc.ID),
		"chunk_id":   doc.ID,
		"collection": collection,
		"title":      doc.Title,
		"content":    doc.Content,
		"url":        doc.URL,
		"metadata":   doc.Metadata,
	}}
	index := c.service.Index(project)
	return c.run(ctx, "upsert", func(ctx context.Context) error {
		_, err := index.AddDocumentsWithContext(ctx, documents, "uid")
		return err
	})
}

func (c *Client) Remove(ctx context.Context, project, _ string, id string) error {
	index := c.service.Index(project)
	err := c.run(ctx, "remove", func(ctx context.Context) error {
		_, err := index.DeleteDocumentWithContext(ctx, documentUID(id))
		return err
	})
	if hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (c *Client) Search(ctx context.Context, project string, q domain.LexicalQuery) (*domain.LexicalResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	request := &meili.SearchRequest{
		Limit:            int64(limit),
		ShowRankingScore: true,
	}
	if filter := buildFilter(q.Collections, q.Filters); len(filter) > 0 {
		request.Filter = filter
	}

	index := c.service.Index(project)
	var resp *meili.SearchResponse
	err := c.run(ctx, "search", func(ctx context.Context) error {
		var err error
		resp, err = index.SearchWithContext(ctx, q.Q, request)
		return err
	})
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return &domain.LexicalResult{Hits: []domain.LexicalHit{}}, nil
		}
		return nil, err
	}

	rawHits, err := decodeHits(resp.Hits)
	if err != nil {
		return nil, err
	}
	hits := make([]domain.LexicalHit, 0, len(rawHits))
	for _, raw := range rawHits {
		score, _ := raw["_rankingScore"].(float64)
		uid, _ := raw["uid"].(string)
		chunkID, _ := raw["chunk_id"].(string)
		collection, _ := raw["collection"].(string)

		fields := make(map[string]any, len(raw))
		for key, value := range raw {
			if strings.HasPrefix(key, "_") || key == "uid" || key == "chunk_id" || value == nil {
				continue
			}
			fields[key] = value
		}
		hits = append(hits, domain.LexicalHit{
			ID:         chunkID,
			UID:        uid,
			Collection: collection,
			Score:      score,
			Fields:     fields,
		})
	}
	return &domain.LexicalResult{
		Hits:               hits,
		EstimatedTotalHits: int(resp.EstimatedTotalHits),
		ProcessingTimeMs:   int64(resp.ProcessingTimeMs),
	}, nil
}

// decodeHits normalizes the SDK hit representation into plain JSON maps.
func decodeHits(hits any) ([]map[string]any, error) {
	data, err := json.Marshal(hits)
	if err != nil {
		return nil, fmt.Errorf("encode meilisearch hits: %w", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode meilisearch hits: %w", err)
	}
	return out, nil
}

// buildFilter ANDs one IN clause per key. Keys are sorted so requests are reproducible.
func buildFilter(collections []string, filters map[string][]any) []string {
	var out []string
	if len(collections) > 0 {
		values := make([]any, 0, len(collections))
		for _, collection := range collections {
			values = append(values, collection)
		}
		out = append(out, inClause("collection", values))
	}

	keys := make([]string, 0, len(filters))
	for key, values := range filters {
		if len(values) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, inClause(domain.FilterField(key), filters[key]))
	}
	return out
}

func inClause(attribute string, values []any) string {
	literals := make([]string, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case string:
			literals = append(literals, quote(v))
		case bool, int, int64, float32, float64:
			literals = append(literals, fmt.Sprintf("%v", v))
		default:
			literals = append(literals, quote(fmt.Sprintf("%v", v)))
		}
	}
	return attribute + " IN [" + strings.Join(literals, ", ") + "]"
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func (c *Client) ensureSettings(ctx context.Context, project string) error {
	c.settingsMu.Lock()
	done := c.configured[project]
	c.settingsMu.Unlock()
	if done {
		return nil
	}

	settings := &meili.Settings{
		SearchableAttributes: []string{"title", "content"},
		FilterableAttributes: []string{"collection", "metadata"},
	}
	index := c.service.Index(project)
	if err := c.run(ctx, "settings", func(ctx context.Context) error {
		_, err := index.UpdateSettingsWithContext(ctx, settings)
		return err
	}); err != nil {
		return err
	}

	c.settingsMu.Lock()
	c.configured[project] = true
	c.settingsMu.Unlock()
	return nil
}

func (c *Client) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := resilience.Run(ctx, c.executor, "meilisearch."+operation, fn, classifyMeiliError)
	return resilience.WrapTemporary("meilisearch "+operation, err, classifyMeiliError)
}

// classifyMeiliError applies the HTTP retry policy to SDK errors. A zero status
// means the request never got an answer.
func classifyMeiliError(err error) resilience.ErrorClassification {
	var meiliErr *meili.Error
	if !errors.As(err, &meiliErr) {
		return resilience.ClassifyHTTPError(err)
	}
	if meiliErr.StatusCode == 0 {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(meiliErr.OriginError, context.Canceled) || errors.Is(meiliErr.OriginError, context.DeadlineExceeded) {
			return resilience.ErrorClassification{}
		}
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if resilience.IsRetryableHTTPStatus(meiliErr.StatusCode) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{}
}

func hasStatus(err error, code int) bool {
	var meiliErr *meili.Error
	return errors.As(err, &meiliErr) && meiliErr.StatusCode == code
}
