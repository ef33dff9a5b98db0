package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/bootstrap"
	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// sharedAppFactory keeps one in-process app across command runs so state survives between them.
func sharedAppFactory(t *testing.T) AppFactory {
	t.Helper()
	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, 0, len(req.Input))
		for _, text := range req.Input {
			if strings.Contains(strings.ToLower(text), "password") {
				out = append(out, []float32{1, 0})
			} else {
				out = append(out, []float32{0, 1})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	t.Cleanup(embedServer.Close)

	cfg := config.Defaults()
	cfg.VectorBackend = config.VectorBackendMemory
	cfg.BleveIndexPath = ""
	cfg.OllamaURL = embedServer.URL
	cfg.EmbeddingDimension = 2
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 0

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Logger: slog.Default()})
	if err != nil {
		t.Fatalf("bootstrap.New() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	return func(context.Context, config.Config, *slog.Logger) (*bootstrap.App, func(), error) {
		return app, func() {}, nil
	}
}

func run(t *testing.T, factory AppFactory, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	root := newRootCmd(factory)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSearchRequiresQueryAndProject(t *testing.T) {
	factory := sharedAppFactory(t)

	if _, err := run(t, factory, "search"); err == nil {
		t.Fatalf("expected error without query")
	}
	if _, err := run(t, factory, "search", "password"); err == nil {
		t.Fatalf("expected error without --project")
	}
}

func TestUpsertSearchCountDelete(t *testing.T) {
	factory := sharedAppFactory(t)

	path := filepath.Join(t.TempDir(), "guide.md")
	if err := os.WriteFile(path, []byte("To reset your password open the login page and follow the link."), 0o600); err != nil {
		t.Fatalf("write guide: %v", err)
	}
	jsonPath := filepath.Join(t.TempDir(), "chunks.json")
	chunks := `[{"id":"faq-1","title":"Invoices","content":"Invoices are emailed monthly."}]`
	if err := os.WriteFile(jsonPath, []byte(chunks), 0o600); err != nil {
		t.Fatalf("write chunks: %v", err)
	}

	out, err := run(t, factory, "upsert", "-p", "acme", "-c", "docs", "--file", path, "--json", jsonPath)
	if err != nil {
		t.Fatalf("upsert error = %v", err)
	}
	if !strings.Contains(out, "upserted 2 chunks") {
		t.Fatalf("unexpected upsert output %q", out)
	}

	out, err = run(t, factory, "search", "reset", "password", "-p", "acme", "--format", "json")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode search output: %v", err)
	}
	if len(resp.Hits) == 0 || resp.Hits[0].DocID != "guide.md#0" {
		t.Fatalf("expected file chunk first, got %+v", resp.Hits)
	}

	out, err = run(t, factory, "count", "-p", "acme")
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Fatalf("expected count 2, got %q", out)
	}

	if _, err := run(t, factory, "delete", "guide.md#0", "-p", "acme", "-c", "docs"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	out, _ = run(t, factory, "count", "-p", "acme", "-c", "docs")
	if strings.TrimSpace(out) != "1" {
		t.Fatalf("expected count 1 after delete, got %q", out)
	}
}

func TestSearchTextFormat(t *testing.T) {
	factory := sharedAppFactory(t)
	if _, err := run(t, factory, "upsert", "-p", "acme", "--json", "-"); err == nil {
		t.Fatalf("expected decode error for empty stdin")
	}

	out, err := run(t, factory, "search", "anything", "-p", "empty")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.HasPrefix(out, "0 hits") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestUpsertRequiresInput(t *testing.T) {
	factory := sharedAppFactory(t)
	if _, err := run(t, factory, "upsert", "-p", "acme"); err == nil {
		t.Fatalf("expected error without --file or --json")
	}
}
