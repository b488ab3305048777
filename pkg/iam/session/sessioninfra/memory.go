package sessioninfra

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/iam/session"
)

// MemorySessionRepository keeps session tokens in a map guarded by one
// mutex, which also serializes rotation.
type MemorySessionRepository struct {
	mu     sync.RWMutex
	tokens map[string]session.SessionToken
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{tokens: make(map[string]session.SessionToken)}
}

func (m *MemorySessionRepository) FindByID(_ context.Context, id string) (*session.SessionToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, session.ErrSessionNotFound().WithDetail("token_id", id)
	}
	return &t, nil
}

func (m *MemorySessionRepository) FindByUsernameAndType(_ context.Context, username string, tt session.TokenType) ([]session.SessionToken, error) {
	return m.filter(func(t session.SessionToken) bool { return t.Type == tt && t.BelongsTo(username) }), nil
}

func (m *MemorySessionRepository) FindChildren(_ context.Context, parentID string) ([]session.SessionToken, error) {
	return m.filter(func(t session.SessionToken) bool { return t.HasParent(parentID) }), nil
}

func (m *MemorySessionRepository) Create(_ context.Context, t session.SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(t)
}

func (m *MemorySessionRepository) CreateRotating(_ context.Context, parentID string, now time.Time, t session.SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[parentID]; !ok {
		return session.ErrSessionNotFound().WithDetail("token_id", parentID)
	}
	for id, child := range m.tokens {
		if child.HasParent(parentID) && child.Expiration.After(now) {
			child.Expiration = now
			m.tokens[id] = child
		}
	}
	return m.create(t)
}

func (m *MemorySessionRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return session.ErrSessionNotFound().WithDetail("token_id", id)
	}
	m.deleteWithChildren(id)
	return nil
}

func (m *MemorySessionRepository) DeleteByUsernameAndType(_ context.Context, username string, tt session.TokenType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, t := range m.tokens {
		if t.Type == tt && t.BelongsTo(username) {
			deleted += m.deleteWithChildren(id)
		}
	}
	return deleted, nil
}

func (m *MemorySessionRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, t := range m.tokens {
		if t.Expiration.Before(before) {
			delete(m.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemorySessionRepository) create(t session.SessionToken) error {
	if t.ParentTokenID != nil {
		if _, ok := m.tokens[*t.ParentTokenID]; !ok {
			return session.ErrSessionNotFound().WithDetail("parent_token_id", *t.ParentTokenID)
		}
	}
	t.Key = append([]byte(nil), t.Key...)
	m.tokens[t.ID] = t
	return nil
}

func (m *MemorySessionRepository) deleteWithChildren(id string) int {
	if _, ok := m.tokens[id]; !ok {
		return 0
	}
	n := 1
	delete(m.tokens, id)
	for cid, t := range m.tokens {
		if t.HasParent(id) {
			n += m.deleteWithChildren(cid)
		}
	}
	return n
}

func (m *MemorySessionRepository) filter(keep func(session.SessionToken) bool) []session.SessionToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.SessionToken, 0)
	for _, t := range m.tokens {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out
}
