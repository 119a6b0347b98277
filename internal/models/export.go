package models

import "time"

// ExportEntry is the terminal outcome of a single item in an export document.
type ExportEntry struct {
	ID       string           `json:"id" msgpack:"id"`
	FileName string           `json:"fileName" msgpack:"fileName"`
	Status   ItemStatus       `json:"status" msgpack:"status"`
	Result   *DetectionResult `json:"result,omitempty" msgpack:"result,omitempty"`
	Error    string           `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ExportDocument is the portable snapshot of a finished (or in-flight) batch.
type ExportDocument struct {
	ExportedAt time.Time     `json:"exportedAt" msgpack:"exportedAt"`
	ItemCount  int           `json:"itemCount" msgpack:"itemCount"`
	Items      []ExportEntry `json:"items" msgpack:"items"`
}
