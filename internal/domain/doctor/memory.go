package doctor

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*Doctor
}

// NewMemoryRepository creates a repository holding seed.
func NewMemoryRepository(seed ...*Doctor) *MemoryRepository {
	m := &MemoryRepository{byID: make(map[string]*Doctor)}
	for _, d := range seed {
		m.byID[d.ID] = d.Clone()
	}
	return m
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Doctor, 0, len(m.byID))
	for _, d := range m.byID {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Email, d.Email) {
			return ErrEmailTaken
		}
	}
	m.byID[d.ID] = d.Clone()
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, id string, fn func(*Doctor) error) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	d := stored.Clone()
	if err := fn(d); err != nil {
		return nil, err
	}
	m.byID[id] = d.Clone()
	return d, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}
