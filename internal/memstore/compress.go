package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/types"
)

// ClusterThreshold is the similarity above which two memories join the
// same compression cluster.
const ClusterThreshold = 0.75

// CompressionEvent is one progress/result/error event emitted while
// Compress runs, so callers can stream compaction progress.
type CompressionEvent struct {
	Type    string // "progress" | "result" | "error"
	Message string
	Entry   *types.MemoryEntry
}

// unionFind is a minimal disjoint-set used to cluster similar memories.
type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// textSimilarity blends character 2-gram and 3-gram Jaccard (0.4 + 0.3),
// character-set overlap (0.2), and length ratio (0.1); used when an
// Embedder is unavailable.
func textSimilarity(a, b string) float64 {
	ngramJaccard := func(s1, s2 string, n int) float64 {
		grams := func(s string) map[string]bool {
			out := make(map[string]bool)
			r := []rune(strings.ToLower(s))
			for i := 0; i+n <= len(r); i++ {
				out[string(r[i:i+n])] = true
			}
			return out
		}
		g1, g2 := grams(s1), grams(s2)
		if len(g1) == 0 && len(g2) == 0 {
			return 1
		}
		inter := 0
		for k := range g1 {
			if g2[k] {
				inter++
			}
		}
		union := len(g1)
		for k := range g2 {
			if !g1[k] {
				union++
			}
		}
		if union == 0 {
			return 0
		}
		return float64(inter) / float64(union)
	}

	charSetOverlap := func(s1, s2 string) float64 {
		set := func(s string) map[rune]bool {
			out := make(map[rune]bool)
			for _, r := range strings.ToLower(s) {
				out[r] = true
			}
			return out
		}
		c1, c2 := set(s1), set(s2)
		if len(c1) == 0 && len(c2) == 0 {
			return 1
		}
		inter := 0
		for r := range c1 {
			if c2[r] {
				inter++
			}
		}
		union := len(c1)
		for r := range c2 {
			if !c1[r] {
				union++
			}
		}
		if union == 0 {
			return 0
		}
		return float64(inter) / float64(union)
	}

	lengthRatio := func(s1, s2 string) float64 {
		l1, l2 := len(s1), len(s2)
		if l1 == 0 || l2 == 0 {
			return 0
		}
		if l1 > l2 {
			l1, l2 = l2, l1
		}
		return float64(l1) / float64(l2)
	}

	return 0.4*ngramJaccard(a, b, 2) + 0.3*ngramJaccard(a, b, 3) + 0.2*charSetOverlap(a, b) + 0.1*lengthRatio(a, b)
}

// Compress clusters similar memories within each category (embeddings
// when embedder is non-nil, otherwise the blended text-similarity
// formula) and asks client to merge each cluster of size >= 2 into one
// entry, emitting progress as it goes. Prior memories replaced by a merge
// are backed up to a .pre-compress sibling of memory.json before
// deletion.
func (s *Store) Compress(ctx context.Context, client llm.Client, embedder llm.Embedder, events chan<- CompressionEvent) error {
	defer close(events)

	all, err := s.All()
	if err != nil {
		events <- CompressionEvent{Type: "error", Message: err.Error()}
		return err
	}

	byCategory := make(map[types.MemoryCategory][]types.MemoryEntry)
	for _, e := range all {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	if b, rerr := os.ReadFile(s.path); rerr == nil {
		_ = os.WriteFile(s.path+".pre-compress", b, 0o644)
	}

	var toDelete []string
	var toAdd []types.MemoryEntry

	for category, entries := range byCategory {
		if len(entries) < 2 {
			continue
		}
		events <- CompressionEvent{Type: "progress", Message: fmt.Sprintf("clustering %d entries in %s", len(entries), category)}

		sims := make([][]float64, len(entries))
		var vecs [][]float64
		if embedder != nil {
			vecs = make([][]float64, len(entries))
			for i, e := range entries {
				v, err := embedder.Embed(ctx, e.Content)
				if err != nil {
					vecs = nil
					break
				}
				vecs[i] = v
			}
		}
		for i := range entries {
			sims[i] = make([]float64, len(entries))
		}

		uf := newUnionFind(len(entries))
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				var sim float64
				if vecs != nil {
					sim = cosine64(vecs[i], vecs[j])
				} else {
					sim = textSimilarity(entries[i].Content, entries[j].Content)
				}
				if sim >= ClusterThreshold {
					uf.union(i, j)
				}
			}
		}

		clusters := make(map[int][]int)
		for i := range entries {
			root := uf.find(i)
			clusters[root] = append(clusters[root], i)
		}

		for _, members := range clusters {
			if len(members) < 2 {
				continue
			}
			var sources []types.MemoryEntry
			for _, idx := range members {
				sources = append(sources, entries[idx])
			}
			merged, newSalience, err := s.mergeClusterLLM(ctx, client, sources)
			if err != nil {
				events <- CompressionEvent{Type: "error", Message: err.Error()}
				continue
			}
			accessCount := 0
			var mergedFrom []string
			for _, src := range sources {
				accessCount += src.AccessCount
				mergedFrom = append(mergedFrom, src.ID)
				toDelete = append(toDelete, src.ID)
			}
			entry := types.MemoryEntry{
				Category:    category,
				Content:     merged,
				Salience:    types.ClampSalience(newSalience),
				Source:      "compression",
				AccessCount: accessCount,
				Context:     &types.MemoryContext{MergedFrom: mergedFrom},
			}
			toAdd = append(toAdd, entry)
			events <- CompressionEvent{Type: "result", Message: fmt.Sprintf("merged %d entries", len(sources)), Entry: &entry}
		}
	}

	for _, id := range toDelete {
		_ = s.DeleteEntry(id)
	}
	for _, e := range toAdd {
		if _, err := s.AddEntry(e.Content, e.Category, e.Salience, e.Source, e.Context, true); err != nil {
			events <- CompressionEvent{Type: "error", Message: err.Error()}
		}
	}
	s.MarkDirty()
	return nil
}

func cosine64(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

func (s *Store) mergeClusterLLM(ctx context.Context, client llm.Client, sources []types.MemoryEntry) (string, float64, error) {
	var b strings.Builder
	b.WriteString("Merge these related memories into one concise memory, and re-evaluate its salience in [0,1].\n")
	maxSalience := 0.0
	for _, e := range sources {
		fmt.Fprintf(&b, "- %q (salience=%.2f)\n", e.Content, e.Salience)
		if e.Salience > maxSalience {
			maxSalience = e.Salience
		}
	}
	b.WriteString("\nReply with ONLY JSON: {\"content\": \"...\", \"salience\": 0.0}.")

	text, _, _, err := client.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: "You output only valid JSON, no prose."},
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		return "", maxSalience, err
	}

	var out struct {
		Content  string  `json:"content"`
		Salience float64 `json:"salience"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return "", maxSalience, fmt.Errorf("memstore: parse merge result: %w", err)
	}
	if out.Content == "" {
		return "", maxSalience, fmt.Errorf("memstore: merge result missing content")
	}
	return out.Content, out.Salience, nil
}
