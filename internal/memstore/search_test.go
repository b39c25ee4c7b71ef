package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentengine/internal/types"
)

func TestSearchTextScoresBySalience(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEntry("user timezone is Berlin", types.CategoryFacts, 0.9, "test", nil, true)
	require.NoError(t, err)
	_, err = s.AddEntry("user timezone question came up once", types.CategoryGeneral, 0.2, "test", nil, true)
	require.NoError(t, err)

	results, err := s.Search("timezone", 10, false, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "user timezone is Berlin", results[0].Content)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTextCategoryFilter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEntry("deploy checklist lives in the wiki", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)
	_, err = s.AddEntry("deploy fridays make the user nervous", types.CategoryPreferences, 0.5, "test", nil, true)
	require.NoError(t, err)

	results, err := s.Search("deploy", 10, false, types.CategoryPreferences)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.CategoryPreferences, results[0].Category)
}

// Decay monotonicity: same salience and token match, the more recently
// accessed entry never ranks lower.
func TestSearchDecayPrefersRecentlyAccessed(t *testing.T) {
	current := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := New(Options{DataRoot: t.TempDir(), Now: func() time.Time { return current }})

	stale, err := s.AddEntry("backup procedure step alpha", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)

	current = current.Add(40 * 24 * time.Hour)
	fresh, err := s.AddEntry("backup procedure step omega", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)

	results, err := s.Search("backup procedure step", 10, true, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, fresh.ID, results[0].ID)
	require.Equal(t, stale.ID, results[1].ID)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchWithoutDecayTreatsAgeEqually(t *testing.T) {
	current := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := New(Options{DataRoot: t.TempDir(), Now: func() time.Time { return current }})

	_, err := s.AddEntry("backup procedure step alpha", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)
	current = current.Add(40 * 24 * time.Hour)
	_, err = s.AddEntry("backup procedure step omega", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)

	results, err := s.Search("backup procedure step", 10, false, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.InDelta(t, results[0].Score, results[1].Score, 1e-9)
}

func TestSearchIncludesAttenuatedDailyLogHits(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEntry("standup notes archived weekly", types.CategoryFacts, 1.0, "test", nil, true)
	require.NoError(t, err)
	require.NoError(t, s.AppendDailyLog("standup covered the release", "2026-07-10", "activity", "", "", ""))

	results, err := s.Search("standup", 10, false, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "memory", resultKind(results[0]))
	require.Equal(t, "daily_log", resultKind(results[1]))
	require.Greater(t, results[0].Score, results[1].Score)
}

func resultKind(r SearchResult) string {
	if r.ID != "" {
		return "memory"
	}
	return r.Source
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEntry("anything", types.CategoryFacts, 0.5, "test", nil, true)
	require.NoError(t, err)

	results, err := s.Search("   ", 10, false, "")
	require.NoError(t, err)
	require.Empty(t, results)
}
