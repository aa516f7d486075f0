package store

import (
	"context"
	"sync"
	"time"

	"cis/internal/profile/models"
	"cis/pkg/platform/sentinel"
)

type entry struct {
	doc       []byte
	version   int64
	updatedAt time.Time
}

// InMemoryStore keeps encoded profiles in a map. Profiles are stored encoded
// so callers never share memory with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]entry
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]entry), now: time.Now}
}

func (s *InMemoryStore) Find(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p, err := models.Parse(e.doc)
	if err != nil {
		return nil, err
	}
	return &Record{Profile: p, Version: e.version, UpdatedAt: e.updatedAt}, nil
}

func (s *InMemoryStore) Save(_ context.Context, p *models.Profile, expectedVersion int64) (int64, error) {
	doc, err := p.JSON()
	if err != nil {
		return 0, err
	}
	userID := p.UserIDValue()

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.profiles[userID].version
	if current != expectedVersion {
		return 0, sentinel.ErrConflict
	}
	next := current + 1
	s.profiles[userID] = entry{doc: doc, version: next, updatedAt: s.now()}
	return next, nil
}

// InTx runs fn directly; the memory store has no transactions.
func (s *InMemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
