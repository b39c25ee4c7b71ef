package runner

import (
	"log/slog"

	"github.com/haasonsaas/agentengine/internal/memstore"
)

// promptMemory adapts *memstore.Store to promptbuilder.MemoryProvider: the
// prompt builder package stays free of a memstore import (per its own
// doc comment) by depending only on this narrow two-method interface, so
// the adapter lives here instead.
type promptMemory struct {
	store  *memstore.Store
	logger *slog.Logger
}

func (m promptMemory) ReadMemory() string {
	s, err := m.store.ReadMemory()
	if err != nil {
		m.logger.Warn("memstore: read memory failed", "error", err)
		return ""
	}
	return s
}

func (m promptMemory) GetDailyContext(numDays int) string {
	s, err := m.store.GetDailyContext(numDays)
	if err != nil {
		m.logger.Warn("memstore: get daily context failed", "error", err)
		return ""
	}
	return s
}
