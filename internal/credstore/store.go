// Package credstore persists the authenticated session across restarts.
package credstore

import (
	"context"
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// Store persists a single credential set.
type Store interface {
	// Load returns the persisted set or domain.ErrCredentialsNotFound.
	Load(ctx context.Context) (*domain.CredentialSet, error)
	// Save replaces the persisted set.
	Save(ctx context.Context, set *domain.CredentialSet) error
	// Clear removes the persisted set. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the set in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	set *domain.CredentialSet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (*domain.CredentialSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.set == nil {
		return nil, domain.ErrCredentialsNotFound
	}
	return m.set.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, set *domain.CredentialSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set = set.Clone()
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set = nil
	return nil
}
