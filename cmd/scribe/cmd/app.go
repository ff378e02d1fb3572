package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scribe-rag/scribe/internal/ask"
	"github.com/scribe-rag/scribe/internal/chunk"
	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/embed"
	"github.com/scribe-rag/scribe/internal/ingest"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/logging"
	"github.com/scribe-rag/scribe/internal/parser"
	"github.com/scribe-rag/scribe/internal/rerank"
	"github.com/scribe-rag/scribe/internal/search"
	"github.com/scribe-rag/scribe/internal/store"
	"github.com/scribe-rag/scribe/internal/telemetry"
	"github.com/scribe-rag/scribe/internal/vector"
	"github.com/scribe-rag/scribe/internal/verify"
)

// app holds every long-lived dependency, constructed once at boot and
// passed explicitly to the pipelines.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	meta        *store.Store
	vectors     vector.Store
	coordinator *ingest.Coordinator
	engine      *search.Engine
	askSvc      *ask.Service
	recorder    *telemetry.Recorder

	cleanups []func()
}

// newApp loads configuration and wires the dependency graph.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.cleanups = append(a.cleanups, logCleanup)

	a.meta, err = store.Open(cfg.Storage.SQLitePath, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { _ = a.meta.Close() })

	a.vectors, err = openVectorStore(cfg.Qdrant, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { _ = a.vectors.Close() })
	if err := a.vectors.EnsureCollection(ctx); err != nil {
		a.close()
		return nil, err
	}

	embedder, err := embed.NewCachedEmbedder(
		embed.NewGatewayEmbedder(cfg.Gateway, cfg.Qdrant.VectorSize, logger),
		embed.DefaultCacheSize, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	llmClient := llm.NewGatewayClient(cfg.Gateway, logger)
	reranker := rerank.NewHTTPReranker(cfg.Gateway, logger)
	expander := search.NewExpander(llmClient, cfg.Features.QueryExpansion, logger)
	hyde := search.NewHyDE(llmClient, cfg.Features.HyDE, logger)

	a.engine = search.NewEngine(embedder, a.vectors, reranker, expander, hyde,
		a.meta, cfg.Search, cfg.Reranking, logger)

	chunker := chunk.New(chunk.Options{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		MinChunkSize: cfg.Chunking.MinChunkSize,
	})
	a.coordinator = ingest.NewCoordinator(a.meta, a.vectors, embedder, chunker,
		parser.NewRegistry(), llmClient, cfg.Features, cfg.Storage, logger)

	verifier := verify.NewPipeline(llmClient, cfg.Verification, cfg.Gateway.Timeout, logger)
	a.askSvc = ask.NewService(a.engine, llmClient, verifier, logger)
	a.recorder = telemetry.NewRecorder(a.meta, logger)

	return a, nil
}

// close releases resources in reverse construction order.
func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

func openVectorStore(cfg config.QdrantConfig, logger *slog.Logger) (vector.Store, error) {
	switch cfg.Backend {
	case "memory":
		return vector.NewMemoryStore(cfg.VectorSize, logger), nil
	case "qdrant", "":
		return vector.NewQdrantStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
