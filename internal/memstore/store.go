// Package memstore implements the four-layer memory subsystem: the
// long-term JSON store, daily logs, salience/decay-ranked search over a
// vector-or-text index, consolidation, compression and archival.
package memstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentengine/internal/types"
)

// Clock is injected so decay/dedup tests are deterministic.
type Clock func() time.Time

// Store is the process-local long-term memory store: a single JSON file
// under an exclusive lock for every read-modify-write. The filesystem is
// the durable record; every write copies the previous file to a .bak
// sibling first.
type Store struct {
	mu   sync.Mutex
	path string
	logs string // logs/ directory, sibling of the memory.json file
	now  Clock

	logger *slog.Logger
	index  VectorIndex // nil disables the vector path; text fallback always available

	dirty bool // set on every mutation; forces rebuild-from-scratch on next Search
}

// VectorIndex is the pluggable similarity backend consulted by Search
// before falling back to text matching. Implementations live under
// internal/memstore/vectorindex (sqlite, pgvector).
type VectorIndex interface {
	// Rebuild replaces the entire index contents with docs.
	Rebuild(docs []IndexDoc) error
	// Query returns up to topK candidate IDs with their raw semantic score,
	// ordered by descending score.
	Query(text string, topK int) ([]ScoredDoc, error)
}

// IndexDoc is one unit indexed by a VectorIndex: either a MemoryEntry or a
// daily-log entry, distinguished by Kind.
type IndexDoc struct {
	ID       string
	Kind     string // "memory" | "daily_log"
	Content  string
	Category types.MemoryCategory
	Salience float64
}

// ScoredDoc is one VectorIndex query hit.
type ScoredDoc struct {
	IndexDoc
	Score float64
}

// Options configures a new Store.
type Options struct {
	DataRoot string // user-data root; memory.json lives at DataRoot/memory/memory.json
	Index    VectorIndex
	Now      Clock
	Logger   *slog.Logger
}

// New constructs a Store rooted at DataRoot/memory.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root := filepath.Join(opts.DataRoot, "memory")
	return &Store{
		path:   filepath.Join(root, "memory.json"),
		logs:   filepath.Join(root, "logs"),
		now:    opts.Now,
		index:  opts.Index,
		logger: opts.Logger.With("component", "memstore"),
		dirty:  true,
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// load reads memory.json, tolerating a missing or corrupted file: a
// missing file yields a fresh empty store; a corrupted one logs and loads
// fresh too. The .bak sibling, if any, remains available for manual
// recovery; the store never auto-restores from it.
func (s *Store) load() (types.MemoryStoreFile, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.MemoryStoreFile{Version: 1, Memories: []types.MemoryEntry{}}, nil
		}
		return types.MemoryStoreFile{}, err
	}
	var f types.MemoryStoreFile
	if err := json.Unmarshal(b, &f); err != nil {
		s.logger.Warn("memory.json corrupted, loading fresh store", "error", err, "path", s.path)
		return types.MemoryStoreFile{Version: 1, Memories: []types.MemoryEntry{}}, nil
	}
	if f.Memories == nil {
		f.Memories = []types.MemoryEntry{}
	}
	return f, nil
}

// save writes f back to disk, first copying the existing file (if any) to
// a .bak sibling, then writing atomically via rename.
func (s *Store) save(f types.MemoryStoreFile) error {
	f.LastUpdated = s.now()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("memstore: mkdir: %w", err)
	}
	if b, err := os.ReadFile(s.path); err == nil {
		_ = os.WriteFile(s.path+".bak", b, 0o644)
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("memstore: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("memstore: rename: %w", err)
	}
	s.dirty = true
	return nil
}

// jaccardWordSim computes the Jaccard similarity of the whitespace-tokenised
// lower-cased word sets of a and b.
func jaccardWordSim(a, b string) float64 {
	toSet := func(s string) map[string]bool {
		out := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(s)) {
			out[w] = true
		}
		return out
	}
	sa, sb := toSet(a), toSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter, union := 0, 0
	seen := make(map[string]bool)
	for w := range sa {
		seen[w] = true
		if sb[w] {
			inter++
		}
	}
	for w := range sb {
		if !seen[w] {
			seen[w] = true
		}
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// DedupThreshold is the Jaccard word-set similarity above which AddEntry
// treats a candidate as a duplicate of an existing entry. Independent of
// the semantic-score consolidation threshold used by Consolidate; the
// two are measured differently and tuned separately.
const DedupThreshold = 0.7

// AddEntry inserts content as a new long-term memory, unless an existing
// entry is an exact or near-duplicate (Jaccard word-set similarity >=
// DedupThreshold), in which case the existing entry is returned unchanged.
// skipDedup bypasses the scan entirely (used when a consolidation decision
// or session reflection has already judged the content novel).
func (s *Store) AddEntry(content string, category types.MemoryCategory, salience float64, source string, ctx *types.MemoryContext, skipDedup bool) (types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category = types.NormalizeCategory(category)
	salience = types.ClampSalience(salience)

	f, err := s.load()
	if err != nil {
		return types.MemoryEntry{}, err
	}

	if !skipDedup {
		for _, e := range f.Memories {
			if e.Content == content || jaccardWordSim(e.Content, content) >= DedupThreshold {
				return e, nil
			}
		}
	}

	now := s.now()
	entry := types.MemoryEntry{
		ID:           newID(),
		Category:     category,
		Content:      content,
		Salience:     salience,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Source:       source,
		Context:      ctx,
	}
	f.Memories = append(f.Memories, entry)
	if err := s.save(f); err != nil {
		return types.MemoryEntry{}, err
	}
	return entry, nil
}

// UpdateEntry patches an existing entry's mutable fields. nil/empty
// pointers/ values leave the corresponding field untouched except that
// LastAccessed is always refreshed.
func (s *Store) UpdateEntry(id string, content *string, category *types.MemoryCategory, salience *float64) (types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return types.MemoryEntry{}, err
	}
	for i := range f.Memories {
		if f.Memories[i].ID != id {
			continue
		}
		if content != nil {
			f.Memories[i].Content = *content
		}
		if category != nil {
			f.Memories[i].Category = types.NormalizeCategory(*category)
		}
		if salience != nil {
			f.Memories[i].Salience = types.ClampSalience(*salience)
		}
		f.Memories[i].LastAccessed = s.now()
		if err := s.save(f); err != nil {
			return types.MemoryEntry{}, err
		}
		return f.Memories[i], nil
	}
	return types.MemoryEntry{}, fmt.Errorf("memstore: entry %s not found", id)
}

// DeleteEntry removes an entry by id.
func (s *Store) DeleteEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	out := f.Memories[:0]
	found := false
	for _, e := range f.Memories {
		if e.ID == id {
			found = true
			continue
		}
		out = append(out, e)
	}
	f.Memories = out
	if !found {
		return fmt.Errorf("memstore: entry %s not found", id)
	}
	return s.save(f)
}

// RecordAccess bumps last_accessed and access_count for id.
func (s *Store) RecordAccess(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	for i := range f.Memories {
		if f.Memories[i].ID == id {
			f.Memories[i].LastAccessed = s.now()
			f.Memories[i].AccessCount++
			return s.save(f)
		}
	}
	return fmt.Errorf("memstore: entry %s not found", id)
}

// GetRollingSummary returns the current rolling summary string.
func (s *Store) GetRollingSummary() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", err
	}
	return f.RollingSummary, nil
}

// SetRollingSummary overwrites the rolling summary.
func (s *Store) SetRollingSummary(summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.RollingSummary = summary
	return s.save(f)
}

// All returns a snapshot of every memory entry (used by search and the
// vector index rebuild; callers must not mutate the result).
func (s *Store) All() ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	return f.Memories, nil
}

// ByID returns a single entry.
func (s *Store) ByID(id string) (types.MemoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return types.MemoryEntry{}, false, err
	}
	for _, e := range f.Memories {
		if e.ID == id {
			return e, true, nil
		}
	}
	return types.MemoryEntry{}, false, nil
}

// GetProceduralMemories filters category=procedural entries whose
// Context.Tool matches tool (empty tool returns all procedural entries).
func (s *Store) GetProceduralMemories(tool string) ([]types.MemoryEntry, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []types.MemoryEntry
	for _, e := range all {
		if e.Category != types.CategoryProcedural {
			continue
		}
		if tool == "" || (e.Context != nil && e.Context.Tool == tool) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadMemory renders the human-readable projection injected into the
// system prompt: an optional rolling summary, then per-category headings
// with entries ordered by descending salience, capped at 20 per category
// and 50 total. Entries with salience >= 0.8 carry a visible star prefix.
func (s *Store) ReadMemory() (string, error) {
	s.mu.Lock()
	f, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	byCategory := make(map[types.MemoryCategory][]types.MemoryEntry)
	for _, e := range f.Memories {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	var b strings.Builder
	if f.RollingSummary != "" {
		b.WriteString(f.RollingSummary)
		b.WriteString("\n\n")
	}

	order := []types.MemoryCategory{
		types.CategoryPreferences, types.CategoryFacts, types.CategoryTasks,
		types.CategoryReflections, types.CategoryProcedural, types.CategoryGeneral,
	}
	total := 0
	for _, cat := range order {
		entries := byCategory[cat]
		if len(entries) == 0 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Salience > entries[j].Salience })
		if len(entries) > 20 {
			entries = entries[:20]
		}
		b.WriteString(fmt.Sprintf("## %s\n", strings.Title(string(cat))))
		for _, e := range entries {
			if total >= 50 {
				break
			}
			prefix := ""
			if e.Salience >= 0.8 {
				prefix = "⭐ "
			}
			b.WriteString(fmt.Sprintf("- %s%s\n", prefix, e.Content))
			total++
		}
		if total >= 50 {
			break
		}
	}
	return b.String(), nil
}

// MarkDirty forces the vector index to rebuild from scratch on the next
// Search call. Invoked after any mutation.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Fingerprint returns memory.json's modification time as a cache-key
// component (RFC3339Nano), so a store mutation invalidates anything keyed
// on it. A missing file (nothing persisted yet) fingerprints as "none".
func (s *Store) Fingerprint() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return "none"
	}
	return info.ModTime().UTC().Format(time.RFC3339Nano)
}
