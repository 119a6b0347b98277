package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store holds the raw media payload of each registered item. The payload is
// owned by the item: it is written at registration and removed when the item
// is discarded.
type Store interface {
	Save(id string, r io.Reader) (int64, error)
	Open(id string) (io.ReadCloser, int64, error)
	Delete(id string) error
	Clear() error
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	sizes     map[string]int64
}

// NewLocalStore creates a new LocalStore rooted at uploadDir.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		sizes:     make(map[string]int64),
	}, nil
}

// Save writes the payload for an item ID.
func (s *LocalStore) Save(id string, r io.Reader) (int64, error) {
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[id] = size

	return size, nil
}

// Open returns a reader over the stored payload.
func (s *LocalStore) Open(id string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	size, ok := s.sizes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("payload not found: %s", id)
	}

	f, err := os.Open(filepath.Join(s.uploadDir, id))
	if err != nil {
		return nil, 0, fmt.Errorf("opening payload: %w", err)
	}
	return f, size, nil
}

// Delete removes the payload for an item ID.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sizes[id]; !ok {
		return fmt.Errorf("payload not found: %s", id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting payload: %w", err)
	}

	delete(s.sizes, id)
	return nil
}

// Clear removes all stored payloads.
func (s *LocalStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.sizes {
		path := filepath.Join(s.uploadDir, id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting payload %s: %w", id, err)
		}
		delete(s.sizes, id)
	}
	return nil
}
