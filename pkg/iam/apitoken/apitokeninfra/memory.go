package apitokeninfra

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/iam/apitoken"
)

type MemoryApiTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]apitoken.ApiToken
}

func NewMemoryApiTokenRepository() *MemoryApiTokenRepository {
	return &MemoryApiTokenRepository{tokens: make(map[string]apitoken.ApiToken)}
}

func (m *MemoryApiTokenRepository) FindByID(_ context.Context, id string) (*apitoken.ApiToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, apitoken.ErrNotFound().WithDetail("id", id)
	}
	return &t, nil
}

func (m *MemoryApiTokenRepository) FindByLinkedUser(_ context.Context, linkedUser string) ([]apitoken.ApiToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []apitoken.ApiToken
	for _, t := range m.tokens {
		if strings.EqualFold(t.LinkedUser, linkedUser) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryApiTokenRepository) ExistsByDescription(ctx context.Context, linkedUser, description string) (bool, error) {
	tokens, _ := m.FindByLinkedUser(ctx, linkedUser)
	for _, t := range tokens {
		if t.Description == description {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryApiTokenRepository) Save(_ context.Context, t apitoken.ApiToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Rights = append([]string(nil), t.Rights...)
	m.tokens[t.ID] = t
	return nil
}

func (m *MemoryApiTokenRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return apitoken.ErrNotFound().WithDetail("id", id)
	}
	delete(m.tokens, id)
	return nil
}

func (m *MemoryApiTokenRepository) ExpireBefore(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tokens {
		if t.Status == apitoken.StatusActive && !now.Before(t.ValidUntil) {
			t.Status = apitoken.StatusExpired
			m.tokens[id] = t
			n++
		}
	}
	return n, nil
}
