package batch

import "github.com/ecowatch/backend/internal/models"

// GlobalProgress derives the batch completion percentage from an item
// snapshot: 100 * terminal / total. An empty snapshot yields 0. The
// derivation owns no state and may be queried at any point in the batch's
// lifecycle.
func GlobalProgress(items []models.UploadItem) int {
	if len(items) == 0 {
		return 0
	}

	terminal := 0
	for _, item := range items {
		if item.Status.Terminal() {
			terminal++
		}
	}
	return 100 * terminal / len(items)
}

// GlobalProgress derives the session's completion percentage.
func (s *Session) GlobalProgress() int {
	return GlobalProgress(s.Items())
}

// ProgressSnapshot is the progress view served to clients.
type ProgressSnapshot struct {
	GlobalProgress int                 `json:"globalProgress"`
	Processing     bool                `json:"processing"`
	Items          []models.UploadItem `json:"items"`
}

// Snapshot captures the session's per-item and global progress.
func (s *Session) Snapshot() ProgressSnapshot {
	items := s.Items()
	return ProgressSnapshot{
		GlobalProgress: GlobalProgress(items),
		Processing:     s.Processing(),
		Items:          items,
	}
}
