// mocks.go - In-memory fakes for pipeline tests
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ecowatch/backend/internal/detect"
	"github.com/ecowatch/backend/internal/models"
)

// MemoryStore implements storage.Store in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory payload store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Save(id string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return int64(len(data)), nil
}

func (m *MemoryStore) Open(id string) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[id]
	if !ok {
		return nil, 0, fmt.Errorf("payload not found: %s", id)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return fmt.Errorf("payload not found: %s", id)
	}
	delete(m.data, id)
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

// Len returns the number of stored payloads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// SubmitResult scripts one detector response.
type SubmitResult struct {
	Result *models.DetectionResult
	Err    error
}

// MockDetector implements pipeline.Detector with scripted per-file results.
type MockDetector struct {
	mu      sync.Mutex
	results map[string]SubmitResult // keyed by file name
	calls   []string
}

// NewMockDetector creates a detector whose responses are scripted with Script.
func NewMockDetector() *MockDetector {
	return &MockDetector{results: make(map[string]SubmitResult)}
}

// Script sets the response returned for a given file name.
func (d *MockDetector) Script(fileName string, res SubmitResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[fileName] = res
}

// Calls returns the file names submitted, in order.
func (d *MockDetector) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *MockDetector) Submit(ctx context.Context, file io.Reader, fileName, locationHint string, onProgress detect.ProgressFunc) (*models.DetectionResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	total := int64(len(data))
	if onProgress != nil && total > 0 {
		onProgress(total/2, total)
		onProgress(total, total)
	}

	d.mu.Lock()
	d.calls = append(d.calls, fileName)
	res, ok := d.results[fileName]
	d.mu.Unlock()

	if !ok {
		return &models.DetectionResult{Success: true, Violations: []models.Violation{}}, nil
	}
	return res.Result, res.Err
}

// MockEnricher implements pipeline.Enricher with a fixed payload.
type MockEnricher struct {
	mu      sync.Mutex
	payload json.RawMessage
	fail    bool
	lookups int
}

// NewMockEnricher returns an enricher serving the given payload.
func NewMockEnricher(payload json.RawMessage) *MockEnricher {
	return &MockEnricher{payload: payload}
}

// SetFail makes subsequent lookups report no enrichment available.
func (e *MockEnricher) SetFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

// Lookups returns the number of lookups performed.
func (e *MockEnricher) Lookups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookups
}

func (e *MockEnricher) Lookup(ctx context.Context, lat, lon float64) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lookups++
	if e.fail {
		return nil, false
	}
	return e.payload, true
}
