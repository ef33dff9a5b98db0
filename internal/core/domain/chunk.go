package domain

import (
	"errors"
	"strings"
	"time"
)

// Chunk is the atomic retrievable unit. ID is the conflict key within a project.
type Chunk struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Collection string         `json:"collection"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content,omitempty"`
	URL        string         `json:"url,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (c Chunk) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return WrapError(ErrInvalidInput, "validate chunk", errors.New("id is required"))
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return WrapError(ErrInvalidInput, "validate chunk", errors.New("project_id is required"))
	}
	return nil
}

// EmbeddingText is the text fed to the embedding provider when a chunk arrives without a vector.
func (c Chunk) EmbeddingText() string {
	title := strings.TrimSpace(c.Title)
	content := strings.TrimSpace(c.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	default:
		return title + "\n\n" + content
	}
}

// LexicalDocument is the shape handed to a lexical engine.
type LexicalDocument struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content,omitempty"`
	URL      string         `json:"url,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c Chunk) LexicalDocument() LexicalDocument {
	return LexicalDocument{
		ID:       c.ID,
		Title:    c.Title,
		Content:  c.Content,
		URL:      c.URL,
		Metadata: c.Metadata,
	}
}

type IndexOp string

const (
	IndexOpUpsert IndexOp = "upsert"
	IndexOpDelete IndexOp = "delete"
)

// IndexEvent is an asynchronous write request carried over the message queue.
type IndexEvent struct {
	Op          IndexOp   `json:"op"`
	ProjectID   string    `json:"project_id"`
	ChunkID     string    `json:"chunk_id,omitempty"`
	Collection  string    `json:"collection,omitempty"`
	Chunk       *Chunk    `json:"chunk,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

func (e IndexEvent) Validate() error {
	switch e.Op {
	case IndexOpUpsert:
		if e.Chunk == nil {
			return WrapError(ErrInvalidInput, "validate index event", errors.New("upsert event without chunk"))
		}
		return e.Chunk.Validate()
	case IndexOpDelete:
		if strings.TrimSpace(e.ProjectID) == "" || strings.TrimSpace(e.ChunkID) == "" {
			return WrapError(ErrInvalidInput, "validate index event", errors.New("delete event requires project_id and chunk_id"))
		}
		return nil
	default:
		return WrapError(ErrInvalidInput, "validate index event", errors.New("unknown op "+string(e.Op)))
	}
}
