package models

import "time"

// ItemStatus represents the lifecycle state of an upload item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusError      ItemStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusError
}

// UploadItem is one unit of submitted media progressing through the batch.
// Exactly one of Result/Error is set, and only in a terminal status.
type UploadItem struct {
	ID           string           `json:"id"`
	FileName     string           `json:"fileName"`
	Size         int64            `json:"size"`
	ContentType  string           `json:"contentType"`
	Status       ItemStatus       `json:"status"`
	Progress     int              `json:"progress"` // 0-100, meaningful only while processing/completed
	Result       *DetectionResult `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	RegisteredAt time.Time        `json:"registeredAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// NewUploadItem creates an item in pending state.
func NewUploadItem(id, fileName, contentType string, size int64) *UploadItem {
	return &UploadItem{
		ID:           id,
		FileName:     fileName,
		Size:         size,
		ContentType:  contentType,
		Status:       ItemStatusPending,
		Progress:     0,
		RegisteredAt: time.Now(),
	}
}
