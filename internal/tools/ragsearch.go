package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

var ragKnowledgeExts = map[string]bool{".md": true, ".txt": true}

// ragDoc is one indexed knowledge-base file.
type ragDoc struct {
	path      string
	content   string
	embedding []float64 // nil when no embedder is configured or embedding failed
}

// ragIndex is a small in-process retrieval index: it embeds (when
// deps.Embedder is set) or keyword-scores every file under KnowledgeDir,
// rebuilding whenever the directory's fingerprint (the same
// mtime-hashing idea as cachetier.Fingerprint) changes.
type ragIndex struct {
	mu          sync.Mutex
	fingerprint string
	docs        []ragDoc
}

func (idx *ragIndex) ensure(ctx context.Context, deps Deps) ([]ragDoc, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fp, err := ragFingerprint(deps.KnowledgeDir)
	if err != nil {
		return nil, err
	}
	if fp == idx.fingerprint && idx.docs != nil {
		return idx.docs, nil
	}

	var docs []ragDoc
	err = filepath.WalkDir(deps.KnowledgeDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !ragKnowledgeExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		doc := ragDoc{path: path, content: string(content)}
		if deps.Embedder != nil {
			if vec, eerr := deps.Embedder.Embed(ctx, doc.content); eerr == nil {
				doc.embedding = vec
			}
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx.fingerprint = fp
	idx.docs = docs
	return docs, nil
}

func ragFingerprint(root string) (string, error) {
	var sb strings.Builder
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		fmt.Fprintf(&sb, "%s:%d;", path, info.ModTime().UnixNano())
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return sb.String(), nil
}

type ragHit struct {
	doc   ragDoc
	score float64
}

type ragSearchArgs struct {
	Query string `json:"query"`
}

// NewRAGSearchTool searches deps.KnowledgeDir with hybrid retrieval:
// the engine's llm.Embedder abstraction (the same way memstore's vector
// search uses it) when an embedder is configured, a keyword-overlap
// fallback otherwise.
func NewRAGSearchTool(deps Deps) types.Tool {
	idx := &ragIndex{}
	return types.Tool{
		Name:        registry.RAGSearch,
		Description: "Search the local knowledge base (Markdown/text documents) using semantic or keyword retrieval.",
		Schema: schema(map[string]any{
			"query": prop("string", "The search query to find relevant information."),
		}, []string{"query"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a ragSearchArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("rag_search: invalid arguments: %w", err)
			}
			a.Query = strings.TrimSpace(a.Query)
			if a.Query == "" {
				return "❌ Error: query cannot be empty.", nil
			}

			docs, err := idx.ensure(ctx, deps)
			if err != nil {
				return fmt.Sprintf("⚠️ Knowledge base unavailable: %s", err), nil
			}
			if len(docs) == 0 {
				return "⚠️ Knowledge base is empty. Add documents to the knowledge directory.", nil
			}

			var queryVec []float64
			if deps.Embedder != nil {
				queryVec, _ = deps.Embedder.Embed(ctx, a.Query)
			}

			hits := make([]ragHit, 0, len(docs))
			for _, d := range docs {
				var score float64
				if queryVec != nil && d.embedding != nil {
					score = ragCosine(queryVec, d.embedding)
				} else {
					score = ragKeywordScore(a.Query, d.content)
				}
				if score > 0 {
					hits = append(hits, ragHit{doc: d, score: score})
				}
			}
			sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
			if len(hits) > 5 {
				hits = hits[:5]
			}
			if len(hits) == 0 {
				return fmt.Sprintf("No relevant information found for query: %q", a.Query), nil
			}

			var sb strings.Builder
			for i, h := range hits {
				if i > 0 {
					sb.WriteString("\n---\n")
				}
				fmt.Fprintf(&sb, "📚 %s (relevance: %.2f)\n%s", filepath.Base(h.doc.path), h.score, truncate(h.doc.content, 800))
			}
			return sb.String(), nil
		},
	}
}

func ragKeywordScore(query, content string) float64 {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func ragCosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
