package bm25

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const (
	fieldProject    = "project_id"
	fieldCollection = "collection"
	fieldChunkID    = "chunk_id"
	fieldTitle      = "title"
	fieldContent    = "content"
	fieldURL        = "url"
	metadataPrefix  = domain.FilterMetadataPrefix

	titleBoost = 2.0
)

var errIndexClosed = errors.New("lexical index is closed")

// Index is an embedded BM25 engine. One bleve index holds every project;
// documents are keyed by project and chunk id.
type Index struct {
	index  bleve.Index
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open creates an in-memory index when path is empty, otherwise opens or creates it on disk.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	indexMapping := newIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			logger.Info("lexical_index_created", "path", path)
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &Index{index: idx, path: path, logger: logger}, nil
}

func newIndexMapping() *mapping.IndexMappingImpl {
	keywordField := bleve.NewKeywordFieldMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Index = false

	metadata := bleve.NewDocumentMapping()
	metadata.DefaultAnalyzer = keyword.Name

	chunk := bleve.NewDocumentMapping()
	chunk.AddFieldMappingsAt(fieldProject, keywordField)
	chunk.AddFieldMappingsAt(fieldCollection, keywordField)
	chunk.AddFieldMappingsAt(fieldChunkID, keywordField)
	chunk.AddFieldMappingsAt(fieldTitle, textField)
	chunk.AddFieldMappingsAt(fieldContent, textField)
	chunk.AddFieldMappingsAt(fieldURL, storedOnly)
	chunk.AddSubDocumentMapping("metadata", metadata)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = chunk
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

func documentKey(project, id string) string {
	return project + "\x1f" + id
}

type document struct {
	ProjectID  string         `json:"project_id"`
	Collection string         `json:"collection"`
	ChunkID    string         `json:"chunk_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	URL        string         `json:"url"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (i *Index) Upsert(_ context.Context, project, collection string, doc domain.LexicalDocument) error {
	if strings.TrimSpace(project) == "" || strings.TrimSpace(doc.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "lexical upsert", errors.New("project and id are required"))
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return errIndexClosed
	}

	err := i.index.Index(documentKey(project, doc.ID), document{
		ProjectID:  project,
		Collection: collection,
		ChunkID:    doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		URL:        doc.URL,
		Metadata:   doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

func (i *Index) Remove(_ context.Context, project, _ string, id string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return errIndexClosed
	}
	if err := i.index.Delete(documentKey(project, id)); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Search runs a title/content match, or match-all for a blank query, scoped to the
// project and the requested collections and metadata filters. Filter keys follow
// domain.FilterField: "collection" filters the chunk collection, every other key
// is a metadata field, so "title" means metadata.title rather than the chunk title.
func (i *Index) Search(ctx context.Context, project string, q domain.LexicalQuery) (*domain.LexicalResult, error) {
	if err := domain.ValidateFilters(q.Filters); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, errIndexClosed
	}

	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}

	request := bleve.NewSearchRequestOptions(buildQuery(project, q), limit, 0, false)
	request.Fields = []string{"*"}
	request.SortBy([]string{"-_score", "_id"})

	result, err := i.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]domain.LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		fields, metadata := splitFields(hit.Fields)
		if len(metadata) > 0 {
			fields["metadata"] = metadata
		}
		chunkID, _ := fields[fieldChunkID].(string)
		collection, _ := fields[fieldCollection].(string)
		delete(fields, fieldChunkID)
		delete(fields, fieldProject)
		hits = append(hits, domain.LexicalHit{
			ID:         chunkID,
			UID:        hit.ID,
			Collection: collection,
			Score:      hit.Score,
			Fields:     fields,
		})
	}

	return &domain.LexicalResult{
		Hits:               hits,
		EstimatedTotalHits: int(result.Total),
		ProcessingTimeMs:   result.Took.Milliseconds(),
	}, nil
}

func buildQuery(project string, q domain.LexicalQuery) query.Query {
	projectTerm := bleve.NewTermQuery(project)
	projectTerm.SetField(fieldProject)
	clauses := []query.Query{projectTerm}

	if text := strings.TrimSpace(q.Q); text != "" {
		title := bleve.NewMatchQuery(text)
		title.SetField(fieldTitle)
		title.SetBoost(titleBoost)
		content := bleve.NewMatchQuery(text)
		content.SetField(fieldContent)
		clauses = append(clauses, bleve.NewDisjunctionQuery(title, content))
	} else {
		clauses = append(clauses, bleve.NewMatchAllQuery())
	}

	if len(q.Collections) > 0 {
		values := make([]any, 0, len(q.Collections))
		for _, collection := range q.Collections {
			values = append(values, collection)
		}
		clauses = append(clauses, anyOf(fieldCollection, values))
	}

	for key, values := range q.Filters {
		if len(values) == 0 {
			continue
		}
		clauses = append(clauses, anyOf(domain.FilterField(key), values))
	}

	return bleve.NewConjunctionQuery(clauses...)
}

func anyOf(field string, values []any) query.Query {
	options := make([]query.Query, 0, len(values))
	for _, value := range values {
		options = append(options, valueQuery(field, value))
	}
	return bleve.NewDisjunctionQuery(options...)
}

func valueQuery(field string, value any) query.Query {
	switch v := value.(type) {
	case bool:
		q := bleve.NewBoolFieldQuery(v)
		q.SetField(field)
		return q
	case float64:
		return numericEquals(field, v)
	case float32:
		return numericEquals(field, float64(v))
	case int:
		return numericEquals(field, float64(v))
	case int64:
		return numericEquals(field, float64(v))
	default:
		q := bleve.NewTermQuery(fmt.Sprintf("%v", v))
		q.SetField(field)
		return q
	}
}

func numericEquals(field string, v float64) query.Query {
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &inclusive, &inclusive)
	q.SetField(field)
	return q
}

func splitFields(raw map[string]any) (map[string]any, map[string]any) {
	fields := make(map[string]any, len(raw))
	var metadata map[string]any
	for key, value := range raw {
		if name, ok := strings.CutPrefix(key, metadataPrefix); ok {
			if metadata == nil {
				metadata = make(map[string]any)
			}
			metadata[name] = value
			continue
		}
		fields[key] = value
	}
	return fields, metadata
}

func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return 0, errIndexClosed
	}
	return i.index.DocCount()
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.index.Close()
}
