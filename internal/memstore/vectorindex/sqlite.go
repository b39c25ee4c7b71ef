// Package vectorindex implements the memstore.VectorIndex backends: a
// local SQLite-backed store (the default) and an optional Postgres-backed
// store, each implementing the single "rebuild whole index /
// cosine-query" contract memstore.Store needs; embeddings are computed
// through the llm.Embedder interface.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/types"
)

func memCategory(s string) types.MemoryCategory { return types.MemoryCategory(s) }

// SQLite is a memstore.VectorIndex backed by a local SQLite file. Vectors
// are stored as JSON float arrays and compared with in-process cosine
// similarity; this engine's corpus sizes (a single user's long-term
// memories and daily logs) don't warrant an ANN index.
type SQLite struct {
	mu       sync.Mutex
	db       *sql.DB
	embedder llm.Embedder
}

// NewSQLite opens (creating if absent) a SQLite database at path and
// prepares the embeddings table.
func NewSQLite(ctx context.Context, path string, embedder llm.Embedder) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		category TEXT,
		salience REAL,
		content TEXT NOT NULL,
		vector TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorindex: create table: %w", err)
	}
	return &SQLite{db: db, embedder: embedder}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Rebuild replaces the entire table contents with freshly computed
// embeddings for docs.
func (s *SQLite) Rebuild(docs []memstore.IndexDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("vectorindex: clear table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO embeddings (id, kind, category, salience, content, vector) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("vectorindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		vec, err := s.embedder.Embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("vectorindex: embed doc %d: %w", i, err)
		}
		vb, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Kind, string(d.Category), d.Salience, d.Content, string(vb)); err != nil {
			return fmt.Errorf("vectorindex: insert doc %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Query embeds text and ranks every stored document by cosine similarity.
func (s *SQLite) Query(text string, topK int) ([]memstore.ScoredDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, category, salience, content, vector FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	defer rows.Close()

	var out []memstore.ScoredDoc
	for rows.Next() {
		var doc memstore.IndexDoc
		var category string
		var vecJSON string
		if err := rows.Scan(&doc.ID, &doc.Kind, &category, &doc.Salience, &doc.Content, &vecJSON); err != nil {
			return nil, err
		}
		doc.Category = memCategory(category)
		var vec []float64
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		out = append(out, memstore.ScoredDoc{IndexDoc: doc, Score: cosine(queryVec, vec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
