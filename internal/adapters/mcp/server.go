package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const (
	ToolHybridSearch = "hybrid_search"
	ToolChunkCount   = "chunk_count"
)

// Server exposes the retriever as MCP tools.
type Server struct {
	searcher   ports.HybridSearcher
	counter    ports.VectorStore
	finalCount int
	logger     *slog.Logger
	mcp        *server.MCPServer
}

// NewServer registers hybrid_search and, when counter is non-nil, chunk_count.
// finalCount is the default hit limit for tool calls.
func NewServer(name, version string, searcher ports.HybridSearcher, counter ports.VectorStore, finalCount int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if finalCount <= 0 {
		finalCount = domain.DefaultFinalCount
	}
	s := &Server{
		searcher:   searcher,
		counter:    counter,
		finalCount: finalCount,
		logger:     logger,
		mcp:        server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolHybridSearch,
		mcp.WithDescription("Search a project's knowledge base. Combines keyword matching and semantic similarity, fuses both rankings and returns the best passages with their provenance."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id to search in.")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text query.")),
		mcp.WithArray("collections", mcp.Description("Restrict the search to these collections."), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits to return.")),
	), s.handleSearch)

	if s.counter != nil {
		s.mcp.AddTool(mcp.NewTool(ToolChunkCount,
			mcp.WithDescription("Count indexed chunks of a project, optionally within one collection."),
			mcp.WithString("project", mcp.Required(), mcp.Description("Project id.")),
			mcp.WithString("collection", mcp.Description("Optional collection.")),
		), s.handleCount)
	}
	s.logger.Debug("mcp_tools_registered", "search", true, "count", s.counter != nil)
}

// SearchHit is the compact hit shape returned to MCP clients.
type SearchHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url,omitempty"`
	Collection string  `json:"collection,omitempty"`
	Content    string  `json:"content,omitempty"`
	Score      float64 `json:"score"`
	Provenance string  `json:"provenance"`
}

type SearchOutput struct {
	Hits          []SearchHit `json:"hits"`
	SearchMethods []string    `json:"searchMethods"`
	FusionScore   float64     `json:"fusionScore"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	resp, err := s.searcher.Search(ctx, project, domain.SearchQuery{
		Q:           query,
		Collections: req.GetStringSlice("collections", nil),
		Limit:       req.GetInt("limit", s.finalCount),
	})
	if err != nil {
		s.logger.Warn("mcp_search_failed", "project", project, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	output := SearchOutput{
		Hits:          make([]SearchHit, 0, len(resp.Hits)),
		SearchMethods: resp.SearchMethods,
		FusionScore:   resp.FusionScore,
	}
	for _, hit := range resp.Hits {
		output.Hits = append(output.Hits, SearchHit{
			ID:         hit.DocID,
			Title:      hit.PayloadString("title"),
			URL:        hit.PayloadString("url"),
			Collection: hit.PayloadString("collection"),
			Content:    hit.PayloadString("content"),
			Score:      hit.Score,
			Provenance: string(hit.Provenance),
		})
	}
	return jsonResult(output)
}

func (s *Server) handleCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	collection := req.GetString("collection", "")

	count, err := s.counter.Count(ctx, project, collection)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"project": project, "collection": collection, "count": count})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
