package chunking

import (
	"fmt"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Splitter cuts text into rune windows of ChunkSize with Overlap runes shared between neighbours.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		if window := strings.TrimSpace(string(runes[start:end])); window != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// Source is one document to be cut into retrievable chunks.
type Source struct {
	ProjectID  string
	Collection string
	SourceID   string
	Title      string
	URL        string
	Text       string
	Metadata   map[string]any
}

// Chunks splits src and assigns ids "{SourceID}#{n}". Re-ingesting the same source
// overwrites the same ids. Each chunk carries source_id and chunk_index metadata.
func (s *Splitter) Chunks(src Source) []domain.Chunk {
	parts := s.Split(src.Text)
	out := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		metadata := make(map[string]any, len(src.Metadata)+2)
		for key, value := range src.Metadata {
			metadata[key] = value
		}
		metadata["source_id"] = src.SourceID
		metadata["chunk_index"] = i

		out = append(out, domain.Chunk{
			ID:         fmt.Sprintf("%s#%d", src.SourceID, i),
			ProjectID:  src.ProjectID,
			Collection: src.Collection,
			Title:      src.Title,
			Content:    part,
			URL:        src.URL,
			Metadata:   metadata,
		})
	}
	return out
}
