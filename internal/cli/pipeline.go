package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"docintel/config"
	"docintel/internal/adapter/cache"
	"docintel/internal/adapter/chunker"
	"docintel/internal/adapter/embedding"
	"docintel/internal/adapter/index"
	"docintel/internal/adapter/llm"
	"docintel/internal/adapter/store"
	"docintel/internal/logging"
	"docintel/internal/port"
	"docintel/internal/usecase"
)

// pipeline holds the wired service components shared by the commands.
type pipeline struct {
	logger      *zap.Logger
	store       *store.BoltStore
	index       port.VectorIndex
	embedder    port.Embedder
	coordinator *usecase.Coordinator
	retriever   *usecase.Retriever
	asker       *usecase.Asker
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(GetRootDir(), dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Documents stuck in a non-terminal status mean the previous process
	// died mid-ingestion; their staged vectors are gone with it.
	recovered, err := st.RecoverInterrupted()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to recover interrupted ingestions: %w", err)
	}
	if len(recovered) > 0 {
		logger.Warn("marked interrupted ingestions as failed", zap.Strings("doc_ids", recovered))
	}

	idx, err := index.NewBoltIndex(st.DB(), embedder.Dimension())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	chk, err := chunker.NewTextChunker(cfg.Chunking.MaxChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		st.Close()
		return nil, err
	}

	coordinator := usecase.NewCoordinator(st, idx, chk, embedder, logger, cfg.Ingest.Workers, cfg.Embedding.BatchSize)

	qc := cache.NewQueryCache(cfg.Retrieve.CacheSize, time.Duration(cfg.Retrieve.CacheTTLSeconds)*time.Second)
	retriever := usecase.NewRetriever(embedder, idx, st, qc, logger)
	if cfg.Retrieve.Diversity {
		retriever = retriever.WithDiversity(cfg.Retrieve.MMRLambda, cfg.Retrieve.DedupJaccard)
	}

	var asker *usecase.Asker
	if generator, genErr := llm.NewOpenAIGenerator(cfg.QA.APIKeyEnv, cfg.QA.Model, cfg.QA.BaseURL); genErr == nil {
		asker = usecase.NewAsker(retriever, generator, logger, cfg.Retrieve.TopK, cfg.Retrieve.ContextBudget)
	} else {
		logger.Warn("question answering disabled", zap.Error(genErr))
	}

	return &pipeline{
		logger:      logger,
		store:       st,
		index:       idx,
		embedder:    embedder,
		coordinator: coordinator,
		retriever:   retriever,
		asker:       asker,
	}, nil
}

func buildEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.BatchSize)
	case "fake":
		return embedding.NewFakeEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func (p *pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.coordinator.Shutdown(ctx); err != nil {
		p.logger.Warn("coordinator shutdown timed out", zap.Error(err))
	}
	p.index.Close()
	p.store.Close()
	p.logger.Sync()
}
