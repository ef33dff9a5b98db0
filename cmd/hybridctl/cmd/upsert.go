package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/extractor/plaintext"
)

type upsertOptions struct {
	project    string
	collection string
	files      []string
	jsonPath   string
	title      string
	url        string
}

func newUpsertCmd(root *rootOptions) *cobra.Command {
	var opts upsertOptions

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Write chunks to both indexes",
		Long: `Write chunks synchronously to the vector store and the lexical engine.

Text files are split into chunks with ids "<file name>#<n>"; re-running on the
same file overwrites them. A JSON file (or - for stdin) holds an array of chunks.

Examples:
  hybridctl upsert -p acme -c docs --file guide.md --file faq.txt
  hybridctl upsert -p acme --json chunks.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpsert(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project id")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "default", "Collection for chunks without one")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "Plain-text file to split and index (repeatable)")
	cmd.Flags().StringVar(&opts.jsonPath, "json", "", "JSON array of chunks, - for stdin")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title for file chunks (defaults to the file name)")
	cmd.Flags().StringVar(&opts.url, "url", "", "URL for file chunks")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runUpsert(cmd *cobra.Command, root *rootOptions, opts upsertOptions) error {
	if len(opts.files) == 0 && opts.jsonPath == "" {
		return errors.New("one of --file or --json is required")
	}
	s, err := root.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	var chunks []domain.Chunk
	for _, path := range opts.files {
		text, err := plaintext.ReadFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		title := opts.title
		if title == "" {
			title = name
		}
		chunks = append(chunks, s.app.Splitter.Chunks(chunking.Source{
			ProjectID:  opts.project,
			Collection: opts.collection,
			SourceID:   name,
			Title:      title,
			URL:        opts.url,
			Text:       text,
		})...)
	}
	if opts.jsonPath != "" {
		fromJSON, err := readChunksJSON(cmd.InOrStdin(), opts.jsonPath)
		if err != nil {
			return err
		}
		for _, chunk := range fromJSON {
			if chunk.ProjectID == "" {
				chunk.ProjectID = opts.project
			}
			if chunk.Collection == "" {
				chunk.Collection = opts.collection
			}
			if chunk.ProjectID != opts.project {
				return fmt.Errorf("chunk %q belongs to project %q", chunk.ID, chunk.ProjectID)
			}
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return errors.New("nothing to index")
	}

	if err := s.app.Indexer.UpsertChunks(cmd.Context(), chunks); err != nil {
		return err
	}
	printf(cmd.OutOrStdout(), "upserted %d chunks into %s\n", len(chunks), opts.project)
	return nil
}

func readChunksJSON(stdin io.Reader, path string) ([]domain.Chunk, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open chunks file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var chunks []domain.Chunk
	if err := json.NewDecoder(r).Decode(&chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return chunks, nil
}
