package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/types"
)

// ArchivalConfig controls how long daily logs live before archival and
// deletion.
type ArchivalConfig struct {
	ArchiveDays int // summarise + mark archived after this many days
	DeleteDays  int // delete after this many days, only if already archived
}

// RunArchival summarises and archives daily logs older than
// cfg.ArchiveDays, extracting auto_extract/reflection entries as
// candidate long-term memories (default salience 0.6), then deletes logs
// older than cfg.DeleteDays that are already archived. A summarisation
// failure for one day never deletes that day's log.
func (s *Store) RunArchival(ctx context.Context, client llm.Client, cfg ArchivalConfig) error {
	days, err := s.ListDailyLogs()
	if err != nil {
		return err
	}
	now := s.now()

	for _, day := range days {
		age := daysSince(now, day)
		if age < cfg.ArchiveDays {
			continue
		}

		s.mu.Lock()
		dl, err := s.loadDay(day)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("archival: failed to load day", "day", day, "error", err)
			continue
		}
		if dl.Archived {
			continue
		}

		summary, err := s.summariseDayLLM(ctx, client, dl)
		if err != nil {
			s.logger.Warn("archival: summarisation failed, leaving day un-archived", "day", day, "error", err)
			continue
		}
		dl.Summary = summary
		dl.Archived = true

		for _, e := range dl.Entries {
			if e.Type != "auto_extract" && e.Type != "reflection" {
				continue
			}
			if _, err := s.AddEntry(e.Content, e.Category, 0.6, fmt.Sprintf("archival:%s", day), nil, false); err != nil {
				s.logger.Warn("archival: failed to extract memory", "day", day, "error", err)
			}
		}

		s.mu.Lock()
		saveErr := s.saveDay(dl)
		s.mu.Unlock()
		if saveErr != nil {
			s.logger.Warn("archival: failed to save archived day", "day", day, "error", saveErr)
		}
	}

	for _, day := range days {
		age := daysSince(now, day)
		if age < cfg.DeleteDays {
			continue
		}
		s.mu.Lock()
		dl, err := s.loadDay(day)
		s.mu.Unlock()
		if err != nil || !dl.Archived {
			continue
		}
		if err := s.DeleteDailyLog(day); err != nil {
			s.logger.Warn("archival: failed to delete day", "day", day, "error", err)
		}
	}
	return nil
}

// daysSince returns the whole number of days between day (YYYY-MM-DD) and
// now. An unparseable day is treated as arbitrarily old so it is eligible
// for archival/deletion rather than pinned forever.
func daysSince(now time.Time, day string) int {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return 1 << 30
	}
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

func (s *Store) summariseDayLLM(ctx context.Context, client llm.Client, dl types.DailyLog) (string, error) {
	var b strings.Builder
	for _, e := range dl.Entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.Type, e.Content)
	}
	text, _, _, err := client.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: "Summarise this day's activity log in 200 characters or fewer."},
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text, nil
}

// Scheduler wraps a cron.Cron instance running the store's archival
// sweep on a daily cadence.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler constructs (but does not start) a daily archival scheduler.
func NewScheduler(store *Store, client llm.Client, cfg ArchivalConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	_, err := c.AddFunc("@daily", func() {
		if err := store.RunArchival(context.Background(), client, cfg); err != nil {
			logger.Error("scheduled archival failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("memstore: schedule archival: %w", err)
	}
	return &Scheduler{cron: c, logger: logger.With("component", "memstore.scheduler")}, nil
}

// Start begins the cron scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
