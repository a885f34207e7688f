package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Yates-Labs/knowhow/internal/config"
	"github.com/Yates-Labs/knowhow/internal/engine"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/kb"
	"github.com/Yates-Labs/knowhow/internal/narrative"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// Pipeline holds the configured stores and, once built, the question engine.
type Pipeline struct {
	config      *config.Config
	store       *graph.SQLStore
	vectorStore rag.VectorStore
	embedder    rag.Embedder
	engine      *engine.Engine
}

// Open connects the relationship store and the embedding index described by
// cfg. A failing embedding index is logged and left out so that structured
// retrieval keeps working; a failing relationship store is an error.
func Open(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	store, err := graph.OpenSQL(ctx, cfg.SQLConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open relationship store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	p := &Pipeline{config: cfg, store: store}

	embedderConfig := cfg.EmbedderConfig()
	embedder, err := rag.NewOpenAIEmbedderWithConfig(embedderConfig)
	if err != nil {
		log.Printf("[Pipeline] Warning: embedder unavailable, semantic retrieval disabled: %v", err)
		return p, nil
	}
	cached, err := rag.NewCachedEmbedder(embedder, embedderConfig.CacheSize)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	vectorStore, err := rag.NewMilvusStore(ctx, cfg.MilvusConfig())
	if err != nil {
		log.Printf("[Pipeline] Warning: embedding index unavailable, semantic retrieval disabled: %v", err)
		return p, nil
	}

	p.embedder = cached
	p.vectorStore = vectorStore
	return p, nil
}

// Store returns the relationship store
func (p *Pipeline) Store() graph.Store {
	return p.store
}

// SemanticEnabled reports whether the embedding index is connected
func (p *Pipeline) SemanticEnabled() bool {
	return p.vectorStore != nil && p.embedder != nil
}

// Ingest extracts repos and loads the snapshot into both stores
func (p *Pipeline) Ingest(ctx context.Context, opts Options, repos ...string) (*kb.Snapshot, *LoadResult, error) {
	snapshot, err := BuildSnapshot(ctx, opts, repos...)
	if err != nil {
		return nil, nil, err
	}

	indexOpts := rag.DefaultIndexOptions()
	if p.config.Ingest.BatchSize > 0 {
		indexOpts.BatchSize = p.config.Ingest.BatchSize
	}

	var (
		embedder    rag.Embedder
		vectorStore rag.VectorStore
	)
	if p.SemanticEnabled() {
		embedder, vectorStore = p.embedder, p.vectorStore
	}

	result, err := Load(ctx, snapshot, p.store, embedder, vectorStore, indexOpts)
	return snapshot, result, err
}

// Engine builds the question engine on first use. The known-entity snapshot
// is read from the relationship store at that point.
func (p *Pipeline) Engine(ctx context.Context) (*engine.Engine, error) {
	if p.engine != nil {
		return p.engine, nil
	}

	llmConfig := p.config.NarrativeConfig()
	llm, err := narrative.NewLLM(ctx, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM: %w", err)
	}

	deps := engine.Deps{
		Store:     p.store,
		LLM:       llm,
		LLMConfig: llmConfig,
	}
	if p.SemanticEnabled() {
		retriever, err := rag.NewRetriever(p.embedder, p.vectorStore)
		if err != nil {
			return nil, fmt.Errorf("failed to create retriever: %w", err)
		}
		deps.Index = retriever
	}

	eng, err := engine.New(ctx, p.config.EngineConfig(), deps)
	if err != nil {
		return nil, err
	}
	p.engine = eng
	return eng, nil
}

// Close releases resources held by the pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	if p.vectorStore != nil {
		errs = append(errs, p.vectorStore.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}

// IngestOptions maps the ingest section of cfg to extraction options
func IngestOptions(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Token = cfg.Ingest.GitHubToken
	opts.PullRequests.IncludePatches = cfg.Ingest.IncludePatches
	opts.Git.IncludePatch = cfg.Ingest.IncludePatches
	if cfg.Ingest.MaxPullRequests > 0 {
		opts.PullRequests.MaxPullRequests = cfg.Ingest.MaxPullRequests
	}
	if cfg.Ingest.MaxCommits > 0 {
		opts.Git.MaxCommits = cfg.Ingest.MaxCommits
	}
	return opts
}
