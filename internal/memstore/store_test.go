package memstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentengine/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Options{DataRoot: t.TempDir()})
}

func TestAddEntryExactDuplicateReturnsExisting(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AddEntry("User prefers dark mode", types.CategoryPreferences, 0.6, "user", nil, false)
	require.NoError(t, err)
	second, err := s.AddEntry("User prefers dark mode", types.CategoryPreferences, 0.9, "user", nil, false)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAddEntryJaccardDuplicateReturnsExisting(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AddEntry("the user prefers dark mode on the web ui", types.CategoryPreferences, 0.6, "user", nil, false)
	require.NoError(t, err)
	// Word sets overlap 7/8 >= 0.7.
	second, err := s.AddEntry("the user prefers dark mode on the ui", types.CategoryPreferences, 0.6, "user", nil, false)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
}

func TestAddEntrySkipDedupInsertsAnyway(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddEntry("User prefers dark mode", types.CategoryPreferences, 0.6, "user", nil, false)
	require.NoError(t, err)
	_, err = s.AddEntry("User prefers dark mode", types.CategoryPreferences, 0.6, "user", nil, true)
	require.NoError(t, err)

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAddEntryNormalizesCategoryAndClampsSalience(t *testing.T) {
	s := newTestStore(t)

	e, err := s.AddEntry("some fact", "made-up-category", 1.7, "test", nil, false)
	require.NoError(t, err)
	require.Equal(t, types.CategoryGeneral, e.Category)
	require.Equal(t, 1.0, e.Salience)
}

func TestSaveWritesBackupSibling(t *testing.T) {
	root := t.TempDir()
	s := New(Options{DataRoot: root})

	_, err := s.AddEntry("first", types.CategoryFacts, 0.5, "test", nil, false)
	require.NoError(t, err)
	_, err = s.AddEntry("second", types.CategoryFacts, 0.5, "test", nil, false)
	require.NoError(t, err)

	bak := filepath.Join(root, "memory", "memory.json.bak")
	data, err := os.ReadFile(bak)
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
	require.NotContains(t, string(data), "second")
}

func TestCorruptedStoreLoadsFresh(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "memory", "memory.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(Options{DataRoot: root})
	all, err := s.All()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestReadMemoryStarsHighSalienceAndOrders(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddEntry("minor detail", types.CategoryFacts, 0.3, "test", nil, true)
	require.NoError(t, err)
	_, err = s.AddEntry("critical deadline is Friday", types.CategoryFacts, 0.9, "test", nil, true)
	require.NoError(t, err)

	text, err := s.ReadMemory()
	require.NoError(t, err)
	require.Contains(t, text, "⭐ critical deadline is Friday")

	starred := strings.Index(text, "critical deadline")
	minor := strings.Index(text, "minor detail")
	require.Less(t, starred, minor, "higher-salience entry should render first")
}

func TestRollingSummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetRollingSummary("Working on the quarterly report."))
	got, err := s.GetRollingSummary()
	require.NoError(t, err)
	require.Equal(t, "Working on the quarterly report.", got)

	text, err := s.ReadMemory()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "Working on the quarterly report."))
}

func TestUpdateEntryRefreshesLastAccessed(t *testing.T) {
	current := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	s := New(Options{DataRoot: t.TempDir(), Now: func() time.Time { return current }})

	e, err := s.AddEntry("original", types.CategoryFacts, 0.5, "test", nil, false)
	require.NoError(t, err)

	current = current.Add(48 * time.Hour)
	content := "revised"
	updated, err := s.UpdateEntry(e.ID, &content, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "revised", updated.Content)
	require.Equal(t, current, updated.LastAccessed)
}

func TestRecordAccessBumpsCount(t *testing.T) {
	s := newTestStore(t)
	e, err := s.AddEntry("fact", types.CategoryFacts, 0.5, "test", nil, false)
	require.NoError(t, err)

	require.NoError(t, s.RecordAccess(e.ID))
	require.NoError(t, s.RecordAccess(e.ID))

	got, ok, err := s.ByID(e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got.AccessCount)
}

func TestDeleteEntryRemoves(t *testing.T) {
	s := newTestStore(t)
	e, err := s.AddEntry("ephemeral", types.CategoryTasks, 0.5, "test", nil, false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntry(e.ID))
	_, ok, err := s.ByID(e.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, s.DeleteEntry(e.ID))
}

func TestGetProceduralMemoriesFiltersByTool(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEntry("terminal lesson", types.CategoryProcedural, 0.6, "reflection", &types.MemoryContext{Tool: "terminal"}, true)
	require.NoError(t, err)
	_, err = s.AddEntry("python lesson", types.CategoryProcedural, 0.6, "reflection", &types.MemoryContext{Tool: "python_repl"}, true)
	require.NoError(t, err)

	all, err := s.GetProceduralMemories("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	terminal, err := s.GetProceduralMemories("terminal")
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	require.Equal(t, "terminal lesson", terminal[0].Content)
}

func TestDailyLogAppendAndRead(t *testing.T) {
	fixed := time.Date(2026, 7, 15, 9, 30, 0, 0, time.UTC)
	s := New(Options{DataRoot: t.TempDir(), Now: func() time.Time { return fixed }})

	require.NoError(t, s.AppendDailyLog("checked the deploy", "", "activity", types.CategoryTasks, "terminal", ""))

	days, err := s.ListDailyLogs()
	require.NoError(t, err)
	require.Equal(t, []string{"2026-07-15"}, days)

	text, err := s.ReadDailyLog("2026-07-15")
	require.NoError(t, err)
	require.Contains(t, text, "[09:30:00] activity: checked the deploy (tool=terminal)")
}

func TestReadDailyLogLegacyMarkdownFallback(t *testing.T) {
	root := t.TempDir()
	logs := filepath.Join(root, "memory", "logs")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "2026-01-01.md"), []byte("legacy notes"), 0o644))

	s := New(Options{DataRoot: root})
	text, err := s.ReadDailyLog("2026-01-01")
	require.NoError(t, err)
	require.Equal(t, "legacy notes", text)
}

func TestGetDailyContextKeepsMostRecentDays(t *testing.T) {
	s := newTestStore(t)
	for _, day := range []string{"2026-07-01", "2026-07-02", "2026-07-03"} {
		require.NoError(t, s.AppendDailyLog("entry for "+day, day, "activity", "", "", ""))
	}

	ctx, err := s.GetDailyContext(2)
	require.NoError(t, err)
	require.NotContains(t, ctx, "2026-07-01")
	require.Contains(t, ctx, "2026-07-02")
	require.Contains(t, ctx, "2026-07-03")
}
