package userinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// MemoryUserRepository is a process-local user store.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[kernel.UserID]user.User
}

func NewMemoryUserRepository(seed ...user.User) *MemoryUserRepository {
	m := &MemoryUserRepository{users: make(map[kernel.UserID]user.User)}
	for _, u := range seed {
		m.users[u.ID] = u.Clone()
	}
	return m
}

func (m *MemoryUserRepository) FindByID(_ context.Context, id kernel.UserID) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrUserNotFound().WithDetail("user_id", id)
	}
	c := u.Clone()
	return &c, nil
}

func (m *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*user.User, error) {
	email = user.NormalizeEmail(email)
	return m.first(func(u user.User) bool { return user.NormalizeEmail(u.Email) == email })
}

func (m *MemoryUserRepository) FindByResetToken(_ context.Context, token string) (*user.User, error) {
	return m.first(func(u user.User) bool { return u.ResetToken != nil && *u.ResetToken == token })
}

func (m *MemoryUserRepository) FindAll(_ context.Context, opts kernel.PaginationOptions) (kernel.Paginated[user.User], error) {
	opts, limit, offset := opts.Normalize()
	all := m.filter(func(user.User) bool { return true })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return kernel.NewPaginated(all[offset:end], opts.Page, opts.PageSize, total), nil
}

func (m *MemoryUserRepository) FindByAnyRole(_ context.Context, roles []string) ([]user.User, error) {
	return m.filter(func(u user.User) bool { return u.HasAnyRole(roles) }), nil
}

func (m *MemoryUserRepository) ExistsWithAnyRole(_ context.Context, roles []string, excluded kernel.UserID) (bool, error) {
	found := m.filter(func(u user.User) bool { return u.ID != excluded && u.HasAnyRole(roles) })
	return len(found) > 0, nil
}

func (m *MemoryUserRepository) Save(_ context.Context, u user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := user.NormalizeEmail(u.Email)
	for id, existing := range m.users {
		if id != u.ID && user.NormalizeEmail(existing.Email) == email {
			return user.ErrUserAlreadyExists().WithDetail("email", email)
		}
	}
	u.Email = email
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *MemoryUserRepository) Delete(_ context.Context, id kernel.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return user.ErrUserNotFound().WithDetail("user_id", id)
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryUserRepository) first(match func(user.User) bool) (*user.User, error) {
	found := m.filter(match)
	if len(found) == 0 {
		return nil, user.ErrUserNotFound()
	}
	return &found[0], nil
}

func (m *MemoryUserRepository) filter(keep func(user.User) bool) []user.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		if keep(u) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
