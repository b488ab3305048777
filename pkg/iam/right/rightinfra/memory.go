package rightinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/Abraxas-365/bastion/pkg/iam/right"
)

// MemoryRightRepository is a process-local right store.
type MemoryRightRepository struct {
	mu     sync.RWMutex
	rights map[string]right.Right
}

func NewMemoryRightRepository(seed ...right.Right) *MemoryRightRepository {
	m := &MemoryRightRepository{rights: make(map[string]right.Right)}
	for _, r := range seed {
		m.rights[r.Authority] = r
	}
	return m
}

func (m *MemoryRightRepository) FindByAuthority(_ context.Context, authority string) (*right.Right, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rights[authority]
	if !ok {
		return nil, right.ErrRightNotFound().WithDetail("authority", authority)
	}
	return &r, nil
}

func (m *MemoryRightRepository) FindAll(_ context.Context) ([]right.Right, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]right.Right, 0, len(m.rights))
	for _, r := range m.rights {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Authority < out[j].Authority })
	return out, nil
}

func (m *MemoryRightRepository) Exists(_ context.Context, authority string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rights[authority]
	return ok, nil
}

func (m *MemoryRightRepository) Save(_ context.Context, r right.Right) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rights[r.Authority] = r
	return nil
}

func (m *MemoryRightRepository) Delete(_ context.Context, authority string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rights[authority]; !ok {
		return right.ErrRightNotFound().WithDetail("authority", authority)
	}
	delete(m.rights, authority)
	return nil
}
