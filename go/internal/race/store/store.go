// Package store persists race session snapshots.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
)

// ErrNotFound is returned when a session ID is unknown to the store.
var ErrNotFound = errors.New("session not found")

// Store is the persistence contract the hub depends on.
// Save assigns an ID to sessions that do not have one yet.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) (*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ResultsLoader is implemented by stores that record final standings when a session finishes.
// LoadResults returns a nil slice for sessions without recorded standings.
type ResultsLoader interface {
	LoadResults(ctx context.Context, id uuid.UUID) ([]race.Standing, error)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Session) (*models.Session, error) {
	saved := s.Clone()
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}

	m.mu.Lock()
	m.sessions[saved.ID] = saved
	m.mu.Unlock()

	return saved.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len reports how many sessions are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
