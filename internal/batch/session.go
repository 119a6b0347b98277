// Package batch manages the set of items registered for one submission run:
// membership, per-item lifecycle state, derived progress and terminal
// outcome collection.
package batch

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecowatch/backend/internal/models"
	"github.com/ecowatch/backend/internal/storage"
)

// DefaultMaxItems caps the number of items accepted into one session.
const DefaultMaxItems = 10

// nowFunc is swapped out in tests.
var nowFunc = time.Now

var (
	// ErrProcessing is returned for membership mutations attempted while
	// the batch is being drained.
	ErrProcessing = errors.New("batch is currently processing")
	// ErrItemNotFound is returned when an item ID is unknown.
	ErrItemNotFound = errors.New("item not found")
)

// RegisterFile is one candidate file presented for registration.
type RegisterFile struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Session holds the ordered items of the current batch. Insertion order is
// registration order is processing order. Membership is mutated only by the
// user-facing Register/Remove/Clear operations; the pipeline drives item
// state through the transition methods.
type Session struct {
	mu         sync.RWMutex
	items      []*models.UploadItem
	index      map[string]*models.UploadItem
	store      storage.Store
	maxItems   int
	accepted   map[string]bool
	processing bool
}

// NewSession creates an empty session backed by the given payload store.
func NewSession(store storage.Store, maxItems int, acceptedTypes []string) *Session {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	accepted := make(map[string]bool, len(acceptedTypes))
	for _, t := range acceptedTypes {
		accepted[t] = true
	}
	return &Session{
		index:    make(map[string]*models.UploadItem),
		store:    store,
		maxItems: maxItems,
		accepted: accepted,
	}
}

// Register filters the candidates to the accepted media types and accepts at
// most the remaining capacity, silently dropping the rest. Accepted files
// are persisted to the payload store and wrapped into pending items.
// Registration is rejected outright while the batch is processing.
func (s *Session) Register(files []RegisterFile) ([]*models.UploadItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return nil, ErrProcessing
	}

	remaining := s.maxItems - len(s.items)
	var registered []*models.UploadItem

	for _, f := range files {
		if remaining <= 0 {
			break
		}
		if !s.accepted[f.ContentType] {
			continue
		}

		id := uuid.New().String()
		size, err := s.store.Save(id, f.Content)
		if err != nil {
			return registered, fmt.Errorf("saving payload for %s: %w", f.Name, err)
		}

		item := models.NewUploadItem(id, f.Name, f.ContentType, size)
		s.items = append(s.items, item)
		s.index[id] = item
		registered = append(registered, snapshotPtr(item))
		remaining--
	}

	return registered, nil
}

// Remove deletes a single item and releases its payload. Removal during
// active processing is disallowed.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrProcessing
	}

	item, ok := s.index[id]
	if !ok {
		return ErrItemNotFound
	}

	if err := s.store.Delete(item.ID); err != nil {
		return fmt.Errorf("releasing payload: %w", err)
	}

	delete(s.index, id)
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return nil
}

// Clear discards all items and releases their payloads.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrProcessing
	}

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("releasing payloads: %w", err)
	}

	s.items = nil
	s.index = make(map[string]*models.UploadItem)
	return nil
}

// Items returns a snapshot of all items in registration order.
func (s *Session) Items() []models.UploadItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.UploadItem, len(s.items))
	for i, item := range s.items {
		out[i] = *item
	}
	return out
}

// Get returns a snapshot of one item.
func (s *Session) Get(id string) (models.UploadItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.index[id]
	if !ok {
		return models.UploadItem{}, false
	}
	return *item, true
}

// Len returns the number of registered items.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Processing reports whether a run is currently draining the session.
func (s *Session) Processing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// BeginRun marks the session as processing. It fails if a run is already
// active or no item is pending.
func (s *Session) BeginRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrProcessing
	}

	pending := false
	for _, item := range s.items {
		if item.Status == models.ItemStatusPending {
			pending = true
			break
		}
	}
	if !pending {
		return errors.New("no pending items")
	}

	s.processing = true
	return nil
}

// EndRun clears the processing flag.
func (s *Session) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

// BeginItem transitions an item from pending to processing and resets its
// progress to zero.
func (s *Session) BeginItem(id string) (models.UploadItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[id]
	if !ok {
		return models.UploadItem{}, ErrItemNotFound
	}
	if item.Status != models.ItemStatusPending {
		return models.UploadItem{}, fmt.Errorf("item %s is %s, not pending", id, item.Status)
	}

	item.Status = models.ItemStatusProcessing
	item.Progress = 0
	return *item, nil
}

// SetProgress raises an item's progress. Decreases are ignored so progress
// stays monotone while processing; terminal items are left untouched.
func (s *Session) SetProgress(id string, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[id]
	if !ok || item.Status != models.ItemStatusProcessing {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > item.Progress {
		item.Progress = progress
	}
}

// CompleteItem transitions an item to completed with its result payload and
// pins progress at 100.
func (s *Session) CompleteItem(id string, result *models.DetectionResult) (models.UploadItem, error) {
	return s.finishItem(id, func(item *models.UploadItem) {
		item.Status = models.ItemStatusCompleted
		item.Progress = 100
		item.Result = result
	})
}

// FailItem transitions an item to error with a human-readable message.
func (s *Session) FailItem(id string, message string) (models.UploadItem, error) {
	return s.finishItem(id, func(item *models.UploadItem) {
		item.Status = models.ItemStatusError
		item.Error = message
	})
}

func (s *Session) finishItem(id string, apply func(*models.UploadItem)) (models.UploadItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[id]
	if !ok {
		return models.UploadItem{}, ErrItemNotFound
	}
	if item.Status != models.ItemStatusProcessing {
		return models.UploadItem{}, fmt.Errorf("item %s is %s, not processing", id, item.Status)
	}

	apply(item)
	now := nowFunc()
	item.CompletedAt = &now
	return *item, nil
}

func snapshotPtr(item *models.UploadItem) *models.UploadItem {
	cp := *item
	return &cp
}
