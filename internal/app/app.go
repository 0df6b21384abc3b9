// Package app wires configured capabilities into a rag.Service. Every
// surface (HTTP server, CLI, MCP) builds its service through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgallion1/parentdoc/internal/aggregate"
	"github.com/dgallion1/parentdoc/internal/chunker"
	"github.com/dgallion1/parentdoc/internal/config"
	"github.com/dgallion1/parentdoc/internal/embedding"
	"github.com/dgallion1/parentdoc/internal/llm"
	"github.com/dgallion1/parentdoc/internal/parentstore"
	"github.com/dgallion1/parentdoc/internal/pathstore"
	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/dgallion1/parentdoc/internal/telemetry"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
	"github.com/dgallion1/parentdoc/internal/vectorindex/memory"
	"github.com/dgallion1/parentdoc/internal/vectorindex/postgres"
	"github.com/dgallion1/parentdoc/internal/vectorindex/qdrant"
	"github.com/dgallion1/parentdoc/internal/vectorindex/sqlite"
)

// App owns the service and everything that must be closed with it.
type App struct {
	Config  config.Config
	Service *rag.Service
	Logger  *slog.Logger

	// Meter exposes generation latency; nil when the generator has none.
	Meter llm.Meter

	closers []func(context.Context) error
}

// NewLogger returns a JSON logger at the configured level.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// New builds the service from cfg. On error everything opened so far is
// closed.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var inst *telemetry.Instruments
	if cfg.OTelEnabled {
		i, shutdown, err := telemetry.Init(ctx, "parentdoc")
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		inst = i
		a.closers = append(a.closers, shutdown)
		log.Info("telemetry enabled")
	}

	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	idx, err := a.newIndex(ctx, emb.Dimensions())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return idx.Close() })

	gen := a.newGenerator()
	if m, ok := gen.(llm.Meter); ok {
		a.Meter = m
	}

	parents := a.newParentStore()

	if inst != nil {
		emb = telemetry.WrapEmbedder(emb, inst)
		idx = telemetry.WrapIndex(idx, cfg.VectorIndex, inst)
		model := ""
		if a.Meter != nil {
			model = a.Meter.Model()
		}
		gen = telemetry.WrapGenerator(gen, model, inst)
	}

	settings := rag.Settings{
		Chunking: chunker.Config{
			ParentMaxChars:    cfg.ParentMaxChars,
			ChildMaxChars:     cfg.ChildMaxChars,
			ChildOverlapChars: cfg.ChildOverlapChars,
		},
		RetrievalChildren: cfg.RetrievalChildren,
		MaxParents:        cfg.MaxParents,
		ContextMaxChars:   cfg.ContextMaxChars,
	}
	svc, err := rag.New(settings, rag.Deps{
		Embedder:  emb,
		Index:     idx,
		Generator: gen,
		Parents:   parents,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	a.Service = svc

	log.Info("service ready",
		"vector_index", cfg.VectorIndex,
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_model", emb.Model(),
		"dimensions", emb.Dimensions(),
		"llm_provider", cfg.LLMProvider,
		"parent_store", cfg.ParentStore,
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newEmbedder() (embedding.Embedder, error) {
	cfg := a.Config
	switch cfg.EmbeddingProvider {
	case "openai":
		model := cfg.EmbeddingModel
		if model == config.Default().EmbeddingModel {
			model = ""
		}
		e, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:            cfg.OpenAIAPIKey,
			BaseURL:           cfg.OpenAIBaseURL,
			Model:             model,
			Dimensions:        cfg.EmbeddingDimension,
			RequestsPerSecond: cfg.EmbeddingRPS,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { e.Close(); return nil })
		return e, nil
	default:
		e := embedding.NewOllama(embedding.OllamaConfig{
			BaseURL:    cfg.OllamaURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimension,
		})
		a.closers = append(a.closers, func(context.Context) error { e.Close(); return nil })
		return e, nil
	}
}

func (a *App) newIndex(ctx context.Context, dim int) (vectorindex.Index, error) {
	cfg := a.Config
	switch cfg.VectorIndex {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath, dim, sqlite.WithLogger(a.Logger), sqlite.WithTable(cfg.Collection))
	case "postgres":
		idx, pool, err := postgres.Connect(ctx, cfg.PostgresDSN, dim,
			postgres.WithLogger(a.Logger), postgres.WithTable(cfg.Collection))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		return idx, nil
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			BaseURL:    cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimensions: dim,
		}, a.Logger)
	default:
		return memory.New(dim), nil
	}
}

func (a *App) newGenerator() llm.Generator {
	cfg := a.Config
	switch cfg.LLMProvider {
	case "anthropic":
		c := llm.NewClaudeClient(llm.ClaudeConfig{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		})
		a.closers = append(a.closers, func(context.Context) error { c.Close(); return nil })
		return c
	case "ollama":
		c := llm.NewOllamaChat(cfg.OllamaURL, cfg.OllamaChatModel, cfg.LLMTemperature, cfg.LLMTimeout)
		a.closers = append(a.closers, func(context.Context) error { c.Close(); return nil })
		return c
	default:
		c := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		})
		a.closers = append(a.closers, func(context.Context) error { c.Close(); return nil })
		return c
	}
}

// newParentStore returns nil for PARENT_STORE=none.
func (a *App) newParentStore() aggregate.ParentStore {
	cfg := a.Config
	switch cfg.ParentStore {
	case "memory":
		return parentstore.NewMemory()
	case "pathstore":
		c := pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey, 0)
		a.closers = append(a.closers, func(context.Context) error { c.Close(); return nil })
		return parentstore.NewPathStore(c)
	default:
		return nil
	}
}
