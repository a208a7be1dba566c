// Package app assembles the store, model clients, retriever, assessor and
// ingestion pipeline from a Config. Both the server and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/regcheck/internal/assess"
	"github.com/dgallion1/regcheck/internal/chunker"
	"github.com/dgallion1/regcheck/internal/config"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/metrics"
	"github.com/dgallion1/regcheck/internal/parser"
	"github.com/dgallion1/regcheck/internal/pipeline"
	"github.com/dgallion1/regcheck/internal/retriever"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

// App holds every long-lived component.
type App struct {
	Config       config.Config
	Store        vectorstore.Store
	Usage        *llm.Usage
	Retriever    *retriever.Retriever
	Assessor     *assess.Assessor
	Ingester     *pipeline.Ingester
	Orchestrator *pipeline.Orchestrator
	Metrics      *metrics.Metrics

	clients *llm.Clients
	log     *slog.Logger
}

// New opens the vector store and builds the model clients. The caller owns
// the returned App and must Close it.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	clients, err := llm.NewClients(cfg.LLMSettings())
	if err != nil {
		return nil, fmt.Errorf("model clients: %w", err)
	}

	store, err := vectorstore.New(ctx, cfg.StoreConfig())
	if err != nil {
		clients.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}

	m := metrics.New()
	usage := llm.NewUsage(time.Hour)
	embedder := llm.TimeEmbedder(clients.Embedder, usage.Embedding)
	completer := llm.TimeCompleter(clients.Completer, usage.Completion)

	ret := retriever.New(embedder, store, cfg.MinResults, log.With("component", "retriever"))
	assessor := assess.New(ret, completer, assess.Config{
		K:            cfg.RetrievalK,
		PromptBudget: cfg.PromptBudget,
		ExcerptChars: cfg.ExcerptChars,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}, m, log.With("component", "assess"))

	ingester := pipeline.NewIngester(store, embedder, pipeline.IngestConfig{
		Chunk: chunker.Config{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			MinChunk:     cfg.MinChunkChars,
		},
		Parser:        parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
		BatchSize:     cfg.EmbeddingBatchSize,
		MaxConcurrent: cfg.MaxConcurrentIngest,
		DocumentPaths: cfg.DocumentPaths,
	}, m, log.With("component", "ingest"))

	log.Info("components ready",
		"vector_backend", cfg.VectorBackend,
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_model", cfg.EmbeddingModel,
		"completion_provider", cfg.CompletionProvider,
		"completion_model", cfg.CompletionModel,
	)

	return &App{
		Config:       cfg,
		Store:        store,
		Usage:        usage,
		Retriever:    ret,
		Assessor:     assessor,
		Ingester:     ingester,
		Orchestrator: pipeline.NewOrchestrator(cfg, ingester, log.With("component", "jobs")),
		Metrics:      m,
		clients:      clients,
		log:          log,
	}, nil
}

// Close stops the job workers and releases the store and HTTP clients.
func (a *App) Close() error {
	a.Orchestrator.Stop()
	a.clients.Close()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	a.log.Info("components closed")
	return nil
}
