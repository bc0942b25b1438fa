// Package credential persists the vendor session (auth token + vendor id)
// across process restarts. Every outbound call reads it; nothing caches it.
package credential

import (
	"context"
	"errors"
	"sync"

	"github.com/mycelian/vendor-presence/internal/types"
)

// ErrNotFound is returned by Load when no session has been saved.
var ErrNotFound = errors.New("no stored credential")

// Store holds at most one session.
type Store interface {
	Load(ctx context.Context) (types.Session, error)
	Save(ctx context.Context, s types.Session) error
	Clear(ctx context.Context) error
}

// MemoryStore is a process-local Store, used by tests and ephemeral tools.
type MemoryStore struct {
	mu      sync.RWMutex
	session *types.Session
}

// NewMemoryStore returns an empty store, or one seeded with s when s is valid.
func NewMemoryStore(s types.Session) *MemoryStore {
	m := &MemoryStore{}
	if s.Valid() {
		m.session = &s
	}
	return m
}

func (m *MemoryStore) Load(ctx context.Context) (types.Session, error) {
	if err := ctx.Err(); err != nil {
		return types.Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return types.Session{}, ErrNotFound
	}
	return *m.session, nil
}

func (m *MemoryStore) Save(ctx context.Context, s types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Valid() {
		return errors.New("credential: token and vendor id are required")
	}
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}
