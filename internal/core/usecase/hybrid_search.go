package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const (
	defaultBranchTimeout = 3 * time.Second
	defaultRerankTimeout = 5 * time.Second
)

type RetrieverOptions struct {
	Judge    ports.RelevanceJudge
	Observer ports.RetrievalObserver
	Logger   *slog.Logger

	LexicalTimeout time.Duration
	VectorTimeout  time.Duration
	RerankTimeout  time.Duration
}

// HybridRetriever fans a query out to the lexical and vector branches, fuses the
// results with RRF and optionally reranks them. Read-path failures never surface
// as errors; they only shrink the candidate pool.
type HybridRetriever struct {
	lexical  ports.LexicalSearchPort
	vector   ports.VectorStore
	embedder ports.Embedder
	reranker *Reranker
	observer ports.RetrievalObserver
	logger   *slog.Logger

	cfg            domain.RRFConfig
	lexicalTimeout time.Duration
	vectorTimeout  time.Duration
	rerankTimeout  time.Duration
}

func NewHybridRetriever(
	lexical ports.LexicalSearchPort,
	vector ports.VectorStore,
	embedder ports.Embedder,
	cfg domain.RRFConfig,
	options RetrieverOptions,
) *HybridRetriever {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		lexical:        lexical,
		vector:         vector,
		embedder:       embedder,
		reranker:       NewReranker(options.Judge),
		observer:       options.Observer,
		logger:         logger,
		cfg:            cfg.Normalize(),
		lexicalTimeout: positiveOr(options.LexicalTimeout, defaultBranchTimeout),
		vectorTimeout:  positiveOr(options.VectorTimeout, defaultBranchTimeout),
		rerankTimeout:  positiveOr(options.RerankTimeout, defaultRerankTimeout),
	}
}

func (r *HybridRetriever) Config() domain.RRFConfig {
	return r.cfg
}

type branchOutcome struct {
	ok         bool
	candidates []domain.Candidate
	total      int
}

func (r *HybridRetriever) Search(ctx context.Context, project string, query domain.SearchQuery) (*domain.SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(project) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hybrid search", errors.New("project is required"))
	}
	if query.Limit < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hybrid search", errors.New("limit must not be negative"))
	}
	if err := domain.ValidateFilters(query.Filters); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit == 0 {
		limit = domain.DefaultQueryLimit
	}

	var lexical, vector branchOutcome
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical = r.searchLexical(gctx, project, query)
		return nil
	})
	if strings.TrimSpace(query.Q) != "" {
		g.Go(func() error {
			vector = r.searchVector(gctx, project, query)
			return nil
		})
	}
	_ = g.Wait()

	methods := make([]string, 0, 3)
	if lexical.ok {
		methods = append(methods, domain.MethodBM25)
	}
	if vector.ok {
		methods = append(methods, domain.MethodVector)
	}

	fused := fuseCandidatesRRF(lexical.candidates, vector.candidates, r.cfg.K, r.cfg.Alpha)

	if r.cfg.EnableReranking && r.reranker != nil && len(fused) > 1 {
		reranked, ok := r.rerank(ctx, query.Q, fused)
		if ok {
			fused = reranked
			methods = append(methods, domain.MethodReranked)
		}
	}

	hits := trimCandidates(fused, limit)
	if hits == nil {
		hits = []domain.FusedCandidate{}
	}

	resp := &domain.SearchResponse{
		Hits:               hits,
		EstimatedTotalHits: max(lexical.total, vector.total),
		ProcessingTimeMs:   time.Since(start).Milliseconds(),
		SearchMethods:      methods,
		FusionScore:        estimateFusionQuality(candidateIDs(lexical.candidates), candidateIDs(vector.candidates), len(hits)),
	}
	if r.observer != nil {
		r.observer.ObserveSearch(resp)
	}
	return resp, nil
}

func (r *HybridRetriever) searchLexical(ctx context.Context, project string, query domain.SearchQuery) branchOutcome {
	if r.lexical == nil {
		return branchOutcome{}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.lexicalTimeout)
	defer cancel()

	result, err := r.lexical.Search(ctx, project, domain.LexicalQuery{
		Q:           query.Q,
		Filters:     query.Filters,
		Collections: query.Collections,
		Limit:       r.cfg.MaxCandidates,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.branchFailed(domain.MethodBM25, project, err, time.Since(start))
		return branchOutcome{}
	}
	if result == nil {
		result = &domain.LexicalResult{}
	}

	hits := result.Hits
	if len(hits) > r.cfg.MaxCandidates {
		hits = hits[:r.cfg.MaxCandidates]
	}
	candidates := lexicalCandidates(hits)
	if r.observer != nil {
		r.observer.ObserveBranch(domain.MethodBM25, true, len(candidates), time.Since(start))
	}
	return branchOutcome{
		ok:         true,
		candidates: candidates,
		total:      max(result.EstimatedTotalHits, len(result.Hits)),
	}
}

func (r *HybridRetriever) searchVector(ctx context.Context, project string, query domain.SearchQuery) branchOutcome {
	if r.vector == nil || r.embedder == nil {
		return branchOutcome{}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.vectorTimeout)
	defer cancel()

	embedding, err := r.embedder.EmbedQuery(ctx, query.Q)
	if err != nil {
		r.branchFailed(domain.MethodVector, project, err, time.Since(start))
		return branchOutcome{}
	}

	matches, err := r.vector.SimilaritySearch(ctx, project, embedding, domain.SimilarityOptions{
		Collections: query.Collections,
		Limit:       r.cfg.MaxCandidates,
		Threshold:   domain.HybridSimilarityThreshold,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.branchFailed(domain.MethodVector, project, err, time.Since(start))
		return branchOutcome{}
	}

	if len(matches) > r.cfg.MaxCandidates {
		matches = matches[:r.cfg.MaxCandidates]
	}
	candidates := vectorCandidates(matches)
	if r.observer != nil {
		r.observer.ObserveBranch(domain.MethodVector, true, len(candidates), time.Since(start))
	}
	return branchOutcome{
		ok:         true,
		candidates: candidates,
		total:      len(matches),
	}
}

func (r *HybridRetriever) rerank(ctx context.Context, q string, fused []domain.FusedCandidate) ([]domain.FusedCandidate, bool) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.rerankTimeout)
	defer cancel()

	out, err := r.reranker.Rerank(ctx, q, fused)
	if err != nil {
		r.logger.Warn("rerank_failed",
			"candidates", len(fused),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", err,
		)
		if r.observer != nil {
			r.observer.ObserveRerank("error", time.Since(start))
		}
		return fused, false
	}
	if r.observer != nil {
		r.observer.ObserveRerank("success", time.Since(start))
	}
	return out, true
}

func (r *HybridRetriever) branchFailed(branch, project string, err error, duration time.Duration) {
	r.logger.Warn("search_branch_failed",
		"branch", branch,
		"project", project,
		"duration_ms", float64(duration.Microseconds())/1000.0,
		"error", err,
	)
	if r.observer != nil {
		r.observer.ObserveBranch(branch, false, 0, duration)
	}
}

func positiveOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
