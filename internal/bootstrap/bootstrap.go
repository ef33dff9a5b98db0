package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/core/usecase"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/lexical/bm25"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/lexical/meilisearch"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/llm/embedcache"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/rerank"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/memory"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/qdrant"
)

type Options struct {
	Logger *slog.Logger
	// Observer receives retrieval stage outcomes; nil disables reporting.
	Observer ports.RetrievalObserver
	// BreakerListener is attached to the shared resilience executor.
	BreakerListener resilience.StateListener
	// EnableQueue connects to NATS. The worker always needs it, the api only for async writes.
	EnableQueue bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Vector    ports.VectorStore
	Lexical   ports.LexicalSearchPort
	Embedder  ports.Embedder
	Queue     ports.IndexEventQueue
	Retriever *usecase.HybridRetriever
	Indexer   *usecase.IndexingUseCase
	Splitter  *chunking.Splitter

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	executorOpts := []resilience.ExecutorOption{resilience.WithLogger(logger)}
	if options.BreakerListener != nil {
		executorOpts = append(executorOpts, resilience.WithStateListener(options.BreakerListener))
	}
	executor := resilience.NewExecutor(resilienceConfig(cfg), executorOpts...)

	vector, err := app.openVectorStore(ctx, cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Vector = vector

	lexical, err := app.openLexical(cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Lexical = lexical

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:            cfg.BackendTimeout,
		ResilienceExecutor: executor,
	})
	var embedder ports.Embedder = ollama.NewEmbedder(ollamaClient, cfg.EmbeddingDimension)
	if cfg.EmbedCacheSize > 0 {
		embedder = embedcache.New(embedder, cfg.OllamaEmbedModel, cfg.EmbedCacheSize)
	}
	app.Embedder = embedder

	rrf := cfg.RRF()
	var judge ports.RelevanceJudge
	if rrf.EnableReranking {
		judge = rerank.New(cfg.RerankURL, rerank.Options{
			Model:              cfg.RerankModel,
			Timeout:            cfg.RerankTimeout,
			ResilienceExecutor: executor,
		})
	}

	app.Retriever = usecase.NewHybridRetriever(lexical, vector, embedder, rrf, usecase.RetrieverOptions{
		Judge:          judge,
		Observer:       options.Observer,
		Logger:         logger,
		LexicalTimeout: cfg.LexicalTimeout,
		VectorTimeout:  cfg.VectorTimeout,
		RerankTimeout:  cfg.RerankTimeout,
	})
	app.Indexer = usecase.NewIndexingUseCase(vector, lexical, embedder, usecase.IndexingOptions{
		Dimension:    cfg.EmbeddingDimension,
		BatchWorkers: cfg.IndexBatchWorkers,
	})
	app.Splitter = chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	if options.EnableQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, func() error {
			queue.Close()
			return nil
		})
	}

	logger.Info("bootstrap_ready",
		"vector_backend", cfg.VectorBackend,
		"lexical_backend", cfg.LexicalBackend,
		"reranking", rrf.EnableReranking,
		"queue", options.EnableQueue,
	)
	return app, nil
}

func (a *App) openVectorStore(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPgvector:
		db, err := pgvector.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		store := pgvector.New(db, cfg.EmbeddingDimension, a.Logger)
		// Searches stay fail-soft without the extension; writes surface the error.
		if err := store.EnsureSchema(ctx); err != nil {
			a.Logger.Warn("vector_schema_unavailable", "backend", cfg.VectorBackend, "error", err)
		}
		return store, nil
	case config.VectorBackendQdrant:
		return qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDimension, qdrant.Options{
			Timeout:            cfg.BackendTimeout,
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		}), nil
	case config.VectorBackendMemory:
		return memory.New(cfg.EmbeddingDimension), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend %q", cfg.VectorBackend)
	}
}

func (a *App) openLexical(cfg config.Config, executor *resilience.Executor) (ports.LexicalSearchPort, error) {
	switch cfg.LexicalBackend {
	case config.LexicalBackendBleve:
		index, err := bm25.Open(strings.TrimSpace(cfg.BleveIndexPath), a.Logger)
		if err != nil {
			return nil, fmt.Errorf("open bleve index: %w", err)
		}
		a.closers = append(a.closers, index.Close)
		return index, nil
	case config.LexicalBackendMeilisearch:
		return meilisearch.New(cfg.MeilisearchURL, meilisearch.Options{
			APIKey:             cfg.MeilisearchAPIKey,
			Timeout:            cfg.BackendTimeout,
			ResilienceExecutor: executor,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported lexical backend %q", cfg.LexicalBackend)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:      cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff:   cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:       cfg.ResilienceRetryMaxBackoff,
		RetryMultiplier:       cfg.ResilienceRetryMultiplier,
		QueryRetryMaxAttempts: cfg.ResilienceQueryRetryMaxAttempts,
		QueryRetryMaxBackoff:  cfg.ResilienceQueryRetryMaxBackoff,
		BreakerEnabled:        cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:    uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio:   cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:    cfg.ResilienceBreakerOpenTimeout,
	}
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
