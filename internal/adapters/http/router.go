package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/metrics"
)

const maxRequestBodyBytes = 8 << 20

type Router struct {
	cfg      config.Config
	searcher ports.HybridSearcher
	indexer  ports.ChunkIndexer
	queue    ports.IndexEventQueue
	metrics  *metrics.HTTPServerMetrics
}

// NewRouter accepts a nil queue (async writes rejected) and nil metrics (no /metrics route).
func NewRouter(
	cfg config.Config,
	searcher ports.HybridSearcher,
	indexer ports.ChunkIndexer,
	queue ports.IndexEventQueue,
	serverMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		searcher: searcher,
		indexer:  indexer,
		queue:    queue,
		metrics:  serverMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/projects/{project}/search", rt.search)
	api.HandleFunc("PUT /v1/projects/{project}/chunks", rt.upsertChunks)
	api.HandleFunc("DELETE /v1/projects/{project}/chunks/{id}", rt.deleteChunk)

	var guarded http.Handler = api
	guarded = backpressureMiddleware(guarded, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var query domain.SearchQuery
	if err := decodeJSON(w, r, &query); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := rt.searcher.Search(r.Context(), project, query)
	if err != nil {
		rt.writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type upsertChunksRequest struct {
	Chunks []domain.Chunk `json:"chunks"`
}

func (rt *Router) upsertChunks(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req upsertChunksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Chunks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunks are required"})
		return
	}
	for i := range req.Chunks {
		if req.Chunks[i].ProjectID == "" {
			req.Chunks[i].ProjectID = project
		}
		if req.Chunks[i].ProjectID != project {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("chunk %q belongs to project %q", req.Chunks[i].ID, req.Chunks[i].ProjectID),
			})
			return
		}
	}

	if isAsync(r) {
		if rt.queue == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "async indexing is disabled"})
			return
		}
		for i := range req.Chunks {
			event := domain.IndexEvent{Op: domain.IndexOpUpsert, ProjectID: project, Chunk: &req.Chunks[i]}
			if err := rt.queue.PublishIndexEvent(r.Context(), event); err != nil {
				rt.writeError(w, r, "publish upsert", err)
				return
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Chunks)})
		return
	}

	if err := rt.indexer.UpsertChunks(r.Context(), req.Chunks); err != nil {
		rt.writeError(w, r, "upsert chunks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": len(req.Chunks)})
}

func (rt *Router) deleteChunk(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	id := r.PathValue("id")
	collection := r.URL.Query().Get("collection")

	if isAsync(r) {
		if rt.queue == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "async indexing is disabled"})
			return
		}
		event := domain.IndexEvent{Op: domain.IndexOpDelete, ProjectID: project, ChunkID: id, Collection: collection}
		if err := rt.queue.PublishIndexEvent(r.Context(), event); err != nil {
			rt.writeError(w, r, "publish delete", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
		return
	}

	if err := rt.indexer.DeleteChunk(r.Context(), project, collection, id); err != nil {
		rt.writeError(w, r, "delete chunk", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	class := classifyError(err)
	if class.status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"op", op,
			"error", err,
		)
	}
	writeJSON(w, class.status, map[string]string{"error": err.Error(), "code": class.code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxBytesErr.Limit)
		}
		return errors.New("invalid json")
	}
	return nil
}

func isAsync(r *http.Request) bool {
	async, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("async")))
	return async
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
