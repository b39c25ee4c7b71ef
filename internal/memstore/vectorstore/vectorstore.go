// Package vectorstore wires memstore.Store to a concrete vectorindex
// backend. It exists separately from memstore to avoid an import cycle:
// memstore defines the VectorIndex interface and IndexDoc/ScoredDoc
// types that vectorindex's backends implement against, so the backend
// selection code cannot live in either package directly.
package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/memstore/vectorindex"
)

// Config selects and configures the long-term store's vector backend:
// sqlite, pgvector, or none.
type Config struct {
	DataRoot  string
	Backend   string // "sqlite", "pgvector", or "" (the zero value) to disable the vector path entirely
	Dimension int

	SQLitePath  string // defaults to DataRoot/memory/vectors.db
	PostgresDSN string

	Pool              *llm.Pool
	EmbeddingScenario string // scenario name resolved against Pool, defaults to "embedding"
}

// NewFromConfig constructs a Store wired to the configured vector
// backend. A Backend of "" disables the vector path; Search then always
// falls back to text matching.
func NewFromConfig(ctx context.Context, cfg Config) (*memstore.Store, error) {
	var index memstore.VectorIndex

	if cfg.Backend != "" {
		if cfg.Pool == nil {
			return nil, fmt.Errorf("memstore: vector backend %q configured without a model pool", cfg.Backend)
		}
		scenario := cfg.EmbeddingScenario
		if scenario == "" {
			scenario = "embedding"
		}
		embedder, err := cfg.Pool.Embedder(scenario)
		if err != nil {
			return nil, fmt.Errorf("memstore: resolve embedder: %w", err)
		}

		switch cfg.Backend {
		case "sqlite", "sqlite-vec":
			path := cfg.SQLitePath
			if path == "" {
				path = filepath.Join(cfg.DataRoot, "memory", "vectors.db")
			}
			sqliteIndex, err := vectorindex.NewSQLite(ctx, path, embedder)
			if err != nil {
				return nil, err
			}
			index = sqliteIndex
		case "pgvector":
			if cfg.PostgresDSN == "" {
				return nil, fmt.Errorf("memstore: pgvector backend requires a DSN")
			}
			pgIndex, err := vectorindex.NewPostgres(ctx, cfg.PostgresDSN, embedder)
			if err != nil {
				return nil, err
			}
			index = pgIndex
		default:
			return nil, fmt.Errorf("memstore: unknown vector backend %q", cfg.Backend)
		}
	}

	return memstore.New(memstore.Options{DataRoot: cfg.DataRoot, Index: index}), nil
}
