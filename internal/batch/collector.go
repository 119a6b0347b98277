package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/ecowatch/backend/internal/models"
)

// Collector accumulates the terminal outcome of every item in registration
// order, for display and for bulk export.
type Collector struct {
	mu      sync.RWMutex
	entries []models.ExportEntry
	seen    map[string]bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

// Record appends an item's terminal outcome. Non-terminal items and
// duplicates are ignored.
func (c *Collector) Record(item models.UploadItem) {
	if !item.Status.Terminal() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[item.ID] {
		return
	}
	c.seen[item.ID] = true
	c.entries = append(c.entries, models.ExportEntry{
		ID:       item.ID,
		FileName: item.FileName,
		Status:   item.Status,
		Result:   item.Result,
		Error:    item.Error,
	})
}

// Entries returns a copy of the collected outcomes.
func (c *Collector) Entries() []models.ExportEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ExportEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of collected outcomes.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset discards all collected outcomes, for when the session is cleared.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.seen = make(map[string]bool)
}

// Export builds a portable snapshot of the batch, timestamped at export
// time. Exporting never mutates the collector.
func (c *Collector) Export(now time.Time) models.ExportDocument {
	entries := c.Entries()
	return models.ExportDocument{
		ExportedAt: now,
		ItemCount:  len(entries),
		Items:      entries,
	}
}

// ExportFileName builds the download filename with an ISO date.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("ecowatch-results-%s.json", now.Format("2006-01-02"))
}
