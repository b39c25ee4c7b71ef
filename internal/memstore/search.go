package memstore

import (
	"math"
	"sort"
	"strings"

	"github.com/haasonsaas/agentengine/internal/types"
)

// SearchResult is one hit returned by Search: it may originate from a
// MemoryEntry (ID populated) or a daily-log entry (ID empty).
type SearchResult struct {
	ID       string
	Content  string
	Category types.MemoryCategory
	Source   string
	Score    float64
	Salience float64
}

// DecayLambda is the exponential-time-decay rate applied to
// days-since-last-accessed when UseDecay is set. The default rate makes
// an entry untouched for 30 days lose roughly half its ranking weight.
var DecayLambda = 0.023

// Search ranks memories (and, in the text-fallback path, daily-log
// entries) against query. If a VectorIndex is configured it is queried
// first (top 2*topK candidates); otherwise the store falls back to a
// whitespace-token substring scan over everything (memory entries and
// every daily-log entry, the latter's score attenuated by 0.5).
func (s *Store) Search(query string, topK int, useDecay bool, category types.MemoryCategory) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	if s.index != nil {
		if err := s.ensureIndexLocked(); err != nil {
			s.logger.Warn("vector index unavailable, falling back to text search", "error", err)
		} else {
			results, err := s.searchVector(query, topK, useDecay, category)
			if err == nil {
				return results, nil
			}
			s.logger.Warn("vector search failed, falling back to text search", "error", err)
		}
	}
	return s.searchText(query, topK, useDecay, category)
}

// ensureIndexLocked rebuilds the vector index from scratch if the dirty
// flag is set (any mutation since the last build).
func (s *Store) ensureIndexLocked() error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}

	mems, err := s.All()
	if err != nil {
		return err
	}
	logEntries, err := s.allDailyLogEntries()
	if err != nil {
		return err
	}

	docs := make([]IndexDoc, 0, len(mems)+len(logEntries))
	for _, m := range mems {
		docs = append(docs, IndexDoc{ID: m.ID, Kind: "memory", Content: m.Content, Category: m.Category, Salience: m.Salience})
	}
	for _, le := range logEntries {
		docs = append(docs, IndexDoc{Kind: "daily_log", Content: le.Entry.Content, Category: le.Entry.Category, Salience: 0.5})
	}
	if err := s.index.Rebuild(docs); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func (s *Store) searchVector(query string, topK int, useDecay bool, category types.MemoryCategory) ([]SearchResult, error) {
	hits, err := s.index.Query(query, topK*2)
	if err != nil {
		return nil, err
	}

	memsByID := make(map[string]types.MemoryEntry)
	if mems, err := s.All(); err == nil {
		for _, m := range mems {
			memsByID[m.ID] = m
		}
	}

	now := s.now()
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if category != "" && h.Category != category {
			continue
		}
		relevance := h.Score * h.Salience
		lastAccessed := now
		if m, ok := memsByID[h.ID]; ok {
			lastAccessed = m.LastAccessed
		}
		if useDecay {
			days := now.Sub(lastAccessed).Hours() / 24
			if days < 0 {
				days = 0
			}
			relevance *= math.Exp(-DecayLambda * days)
		}
		out = append(out, SearchResult{
			ID: h.ID, Content: h.Content, Category: h.Category,
			Source: h.Kind, Score: relevance, Salience: h.Salience,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *Store) searchText(query string, topK int, useDecay bool, category types.MemoryCategory) ([]SearchResult, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	score := func(content string) float64 {
		lower := strings.ToLower(content)
		matched := 0
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		if matched == 0 {
			return 0
		}
		return float64(matched) / float64(len(tokens))
	}

	now := s.now()
	var out []SearchResult

	mems, err := s.All()
	if err != nil {
		return nil, err
	}
	for _, m := range mems {
		if category != "" && m.Category != category {
			continue
		}
		base := score(m.Content)
		if base == 0 {
			continue
		}
		relevance := base * m.Salience
		if useDecay {
			days := now.Sub(m.LastAccessed).Hours() / 24
			if days < 0 {
				days = 0
			}
			relevance *= math.Exp(-DecayLambda * days)
		}
		out = append(out, SearchResult{ID: m.ID, Content: m.Content, Category: m.Category, Source: m.Source, Score: relevance, Salience: m.Salience})
	}

	logEntries, err := s.allDailyLogEntries()
	if err == nil {
		for _, le := range logEntries {
			if category != "" && le.Entry.Category != category {
				continue
			}
			base := score(le.Entry.Content)
			if base == 0 {
				continue
			}
			relevance := base * 0.5 * 0.5 // daily-log salience default (0.5) attenuated by 0.5
			out = append(out, SearchResult{Content: le.Entry.Content, Category: le.Entry.Category, Source: "daily_log", Score: relevance, Salience: 0.5})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
