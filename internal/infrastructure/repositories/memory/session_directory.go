package memory

import (
	"context"
	"sync"

	"lancast/internal/core/domain"
)

type MemorySessionDirectory struct {
	sessions map[domain.SessionID]*domain.Session
	mu       sync.RWMutex
}

func NewMemorySessionDirectory() *MemorySessionDirectory {
	return &MemorySessionDirectory{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (d *MemorySessionDirectory) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, exists := d.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	cp := *session
	return &cp, nil
}

func (d *MemorySessionDirectory) Put(ctx context.Context, session *domain.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *session
	d.sessions[session.ID] = &cp
	return nil
}

func (d *MemorySessionDirectory) Delete(ctx context.Context, id domain.SessionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(d.sessions, id)
	return nil
}
