package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// InMemoryGroupRepository implements GroupRepository in memory.
type InMemoryGroupRepository struct {
	mu     sync.RWMutex
	groups map[domain.GroupID]*domain.Group
}

// NewInMemoryGroupRepository creates an empty group repository.
func NewInMemoryGroupRepository() *InMemoryGroupRepository {
	return &InMemoryGroupRepository{
		groups: make(map[domain.GroupID]*domain.Group),
	}
}

// Create adds a new group.
func (r *InMemoryGroupRepository) Create(ctx context.Context, group *domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[group.ID] = group
	return nil
}

// Get retrieves a group by ID.
func (r *InMemoryGroupRepository) Get(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return group, nil
}

// Delete removes a group.
func (r *InMemoryGroupRepository) Delete(ctx context.Context, id domain.GroupID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return domain.ErrGroupNotFound
	}
	delete(r.groups, id)
	return nil
}

// List returns all groups, oldest first.
func (r *InMemoryGroupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Group, 0, len(r.groups))
	for _, g := range r.groups {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}
