// Package app wires configuration into the store, providers and services
// shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/codequery/internal/adapter/ai"
	"github.com/arturoeanton/codequery/internal/adapter/store"
	"github.com/arturoeanton/codequery/internal/adapter/vcs"
	"github.com/arturoeanton/codequery/internal/port"
	"github.com/arturoeanton/codequery/internal/service"
	"github.com/arturoeanton/codequery/pkg/config"
)

// App holds the wired components.
type App struct {
	Store     port.Store
	Embedder  port.Embedder
	Generator port.Generator // nil in retrieval-only mode
	Ingestion *service.IngestionService
	QA        *service.QAService
}

// Options tunes wiring per entry point.
type Options struct {
	// Synchronous runs ingestions inline, as the CLI does.
	Synchronous bool
	// AllowLocalSources accepts any local directory. Otherwise only paths
	// under cfg.LocalSourceRoots are accepted.
	AllowLocalSources bool
}

// New opens the configured store and builds the services on top of it. The
// caller owns Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	generator, err := ai.NewGenerator(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("generative provider: %w", err)
	}

	acquirer := vcs.NewGitProvider(vcs.NewWorkspaceResolver(cfg.CloneBasePath), cfg.GitTimeout,
		vcs.LocalSources{Roots: cfg.LocalSourceRoots, AllowAll: opts.AllowLocalSources})
	ingestion := service.NewIngestionService(st, acquirer,
		service.NewSelector(service.SelectorOptions{
			MaxFileBytes: cfg.MaxFileBytes,
			Extensions:   cfg.AllowedExtensions,
		}),
		service.NewChunker(service.ChunkerOptions{
			Window:   cfg.ChunkWindow,
			Overlap:  cfg.ChunkOverlap,
			Strategy: cfg.ChunkStrategy,
		}),
		embedder,
		service.NewRefLocks(),
		service.IngestionOptions{
			Synchronous: opts.Synchronous,
			Embed: service.EmbedOptions{
				BatchSize:  cfg.EmbedBatchSize,
				Workers:    cfg.EmbedWorkers,
				Timeout:    cfg.EmbedTimeout,
				MaxRetries: cfg.EmbedMaxRetries,
			},
		},
	)

	qa := service.NewQAService(st,
		service.NewRetriever(embedder, st, cfg.EmbedTimeout, cfg.RetrievalTopK),
		service.NewComposer(generator, service.ComposerOptions{
			PromptMaxChars: cfg.PromptMaxChars,
			Timeout:        cfg.GenerateTimeout,
			LowConfidence:  cfg.LowConfidenceScore,
		}),
	)

	slog.Info("services ready",
		"store", cfg.StoreDriver,
		"embedding_model", embedder.ModelName(),
		"dimension", embedder.Dimension(),
		"generative", cfg.GenerativeEnabled(),
		"chunk_strategy", cfg.ChunkStrategy,
	)
	return &App{Store: st, Embedder: embedder, Generator: generator, Ingestion: ingestion, QA: qa}, nil
}

// Close waits for background ingestions, then closes the store.
func (a *App) Close() error {
	a.Ingestion.Wait()
	return a.Store.Close()
}
