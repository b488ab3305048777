package roleinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/Abraxas-365/bastion/pkg/iam/role"
)

// MemoryRoleRepository is a process-local role store.
type MemoryRoleRepository struct {
	mu    sync.RWMutex
	roles map[string]role.Role
}

func NewMemoryRoleRepository(seed ...role.Role) *MemoryRoleRepository {
	m := &MemoryRoleRepository{roles: make(map[string]role.Role)}
	for _, r := range seed {
		m.roles[r.Name] = r.Clone()
	}
	return m
}

func (m *MemoryRoleRepository) FindByName(_ context.Context, name string) (*role.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[name]
	if !ok {
		return nil, role.ErrRoleNotFound().WithDetail("name", name)
	}
	c := r.Clone()
	return &c, nil
}

func (m *MemoryRoleRepository) FindAll(_ context.Context) ([]role.Role, error) {
	return m.filter(func(role.Role) bool { return true }), nil
}

func (m *MemoryRoleRepository) FindByRight(_ context.Context, authority string) ([]role.Role, error) {
	return m.filter(func(r role.Role) bool { return r.HasRight(authority) }), nil
}

func (m *MemoryRoleRepository) FindDefault(_ context.Context) (*role.Role, error) {
	found := m.filter(func(r role.Role) bool { return r.IsDefaultRole })
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (m *MemoryRoleRepository) Save(_ context.Context, r role.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.Name] = r.Clone()
	return nil
}

func (m *MemoryRoleRepository) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[name]; !ok {
		return role.ErrRoleNotFound().WithDetail("name", name)
	}
	delete(m.roles, name)
	return nil
}

func (m *MemoryRoleRepository) filter(keep func(role.Role) bool) []role.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]role.Role, 0, len(m.roles))
	for _, r := range m.roles {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
