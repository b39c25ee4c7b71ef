package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
)

// Postgres is the optional Postgres-backed memstore.VectorIndex,
// selected when Config.Backend == "pgvector". Plain lib/pq with
// in-process cosine ranking: no pgvector extension or ORDER BY <->
// operator dependency, so the index works against a vanilla Postgres
// instance at the cost of shipping every row to the client per query.
type Postgres struct {
	mu       sync.Mutex
	db       *sql.DB
	embedder llm.Embedder
}

// NewPostgres opens a connection pool against dsn and ensures the
// embeddings table exists.
func NewPostgres(ctx context.Context, dsn string, embedder llm.Embedder) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memstore_embeddings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		category TEXT,
		salience DOUBLE PRECISION,
		content TEXT NOT NULL,
		vector TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorindex: create table: %w", err)
	}
	return &Postgres{db: db, embedder: embedder}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Rebuild replaces the entire table contents with freshly computed
// embeddings for docs.
func (p *Postgres) Rebuild(docs []memstore.IndexDoc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := context.Background()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memstore_embeddings"); err != nil {
		return fmt.Errorf("vectorindex: clear table: %w", err)
	}
	for i, d := range docs {
		vec, err := p.embedder.Embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("vectorindex: embed doc %d: %w", i, err)
		}
		vb, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memstore_embeddings (id, kind, category, salience, content, vector) VALUES ($1, $2, $3, $4, $5, $6)",
			d.ID, d.Kind, string(d.Category), d.Salience, d.Content, string(vb)); err != nil {
			return fmt.Errorf("vectorindex: insert doc %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Query embeds text and ranks every stored document by cosine similarity.
func (p *Postgres) Query(text string, topK int) ([]memstore.ScoredDoc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := context.Background()
	queryVec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, "SELECT id, kind, category, salience, content, vector FROM memstore_embeddings")
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
