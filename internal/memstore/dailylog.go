package memstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentengine/internal/types"
)

func dayPath(logsDir, day string) string {
	return filepath.Join(logsDir, day+".json")
}

func (s *Store) loadDay(day string) (types.DailyLog, error) {
	b, err := os.ReadFile(dayPath(s.logs, day))
	if err != nil {
		if os.IsNotExist(err) {
			return types.DailyLog{Date: day, Entries: []types.DailyLogEntry{}}, nil
		}
		return types.DailyLog{}, err
	}
	var dl types.DailyLog
	if err := json.Unmarshal(b, &dl); err != nil {
		s.logger.Warn("daily log corrupted, starting fresh", "day", day, "error", err)
		return types.DailyLog{Date: day, Entries: []types.DailyLogEntry{}}, nil
	}
	return dl, nil
}

func (s *Store) saveDay(dl types.DailyLog) error {
	if err := os.MkdirAll(s.logs, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(dl, "", "  ")
	if err != nil {
		return err
	}
	path := dayPath(s.logs, dl.Date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendDailyLog appends one entry to day's log file (created lazily on
// first use), timestamped HH:MM:SS against the store's clock. day is a
// YYYY-MM-DD string; empty uses today.
func (s *Store) AppendDailyLog(content, day, logType string, category types.MemoryCategory, tool, errStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if day == "" {
		day = s.now().Format("2006-01-02")
	}
	dl, err := s.loadDay(day)
	if err != nil {
		return err
	}
	dl.Entries = append(dl.Entries, types.DailyLogEntry{
		Time:     s.now(),
		Type:     logType,
		Content:  content,
		Category: category,
		Tool:     tool,
		Error:    errStr,
	})
	return s.saveDay(dl)
}

// ReadDailyLog renders day's log as a human-readable string, falling back
// to a legacy logs/<day>.md file if the JSON file does not exist.
func (s *Store) ReadDailyLog(day string) (string, error) {
	s.mu.Lock()
	path := dayPath(s.logs, day)
	_, statErr := os.Stat(path)
	s.mu.Unlock()

	if os.IsNotExist(statErr) {
		legacy := filepath.Join(s.logs, day+".md")
		if b, err := os.ReadFile(legacy); err == nil {
			return string(b), nil
		}
		return "", nil
	}

	s.mu.Lock()
	dl, err := s.loadDay(day)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", dl.Date)
	if dl.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", dl.Summary)
	}
	for _, e := range dl.Entries {
		fmt.Fprintf(&b, "- [%s] %s: %s", e.Time.Format("15:04:05"), e.Type, e.Content)
		if e.Tool != "" {
			fmt.Fprintf(&b, " (tool=%s)", e.Tool)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, " error=%s", e.Error)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ListDailyLogs returns the YYYY-MM-DD identifiers of every log file,
// sorted ascending.
func (s *Store) ListDailyLogs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.logs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var days []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			days = append(days, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(days)
	return days, nil
}

// DeleteDailyLog removes day's log file (JSON and legacy markdown, if
// present).
func (s *Store) DeleteDailyLog(day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = os.Remove(filepath.Join(s.logs, day+".md"))
	if err := os.Remove(dayPath(s.logs, day)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetDailyContext concatenates the numDays most recent days' logs for
// prompt injection, most recent last.
func (s *Store) GetDailyContext(numDays int) (string, error) {
	days, err := s.ListDailyLogs()
	if err != nil {
		return "", err
	}
	if len(days) > numDays {
		days = days[len(days)-numDays:]
	}
	var b strings.Builder
	for _, d := range days {
		text, err := s.ReadDailyLog(d)
		if err != nil {
			continue
		}
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// allDailyLogEntries flattens every daily log entry across all days into
// IndexDocs for the vector/text search fallback.
func (s *Store) allDailyLogEntries() ([]struct {
	Day   string
	Entry types.DailyLogEntry
}, error) {
	days, err := s.ListDailyLogs()
	if err != nil {
		return nil, err
	}
	var out []struct {
		Day   string
		Entry types.DailyLogEntry
	}
	for _, d := range days {
		s.mu.Lock()
		dl, err := s.loadDay(d)
		s.mu.Unlock()
		if err != nil {
			continue
		}
		for _, e := range dl.Entries {
			out = append(out, struct {
				Day   string
				Entry types.DailyLogEntry
			}{Day: d, Entry: e})
		}
	}
	return out, nil
}
