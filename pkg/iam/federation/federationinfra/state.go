package federationinfra

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/federation"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps pending logins in redis under a TTL. A state can
// be consumed once.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "bastion:oauth2:state:"}
}

func (s *RedisStateStore) Issue(ctx context.Context, p federation.PendingLogin, ttl time.Duration) (string, error) {
	state := uuid.NewString()
	data, err := json.Marshal(p)
	if err != nil {
		return "", errx.Wrap(err, "failed to encode login state", errx.TypeInternal)
	}
	if err := s.client.Set(ctx, s.prefix+state, data, ttl).Err(); err != nil {
		return "", errx.Wrap(err, "failed to store login state", errx.TypeInternal)
	}
	return state, nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (*federation.PendingLogin, error) {
	if state == "" {
		return nil, federation.ErrInvalidState()
	}
	data, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, federation.ErrInvalidState()
		}
		return nil, errx.Wrap(err, "failed to load login state", errx.TypeInternal)
	}
	var p federation.PendingLogin
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, federation.ErrInvalidState()
	}
	return &p, nil
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu      sync.Mutex
	clock   kernel.Clock
	pending map[string]memoryState
}

type memoryState struct {
	login   federation.PendingLogin
	expires time.Time
}

func NewMemoryStateStore(clock kernel.Clock) *MemoryStateStore {
	return &MemoryStateStore{clock: clock, pending: make(map[string]memoryState)}
}

func (s *MemoryStateStore) Issue(_ context.Context, p federation.PendingLogin, ttl time.Duration) (string, error) {
	state := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = memoryState{login: p, expires: s.clock.Now().Add(ttl)}
	return state, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (*federation.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.pending[state]
	if !ok {
		return nil, federation.ErrInvalidState()
	}
	delete(s.pending, state)
	if !s.clock.Now().Before(st.expires) {
		return nil, federation.ErrInvalidState()
	}
	return &st.login, nil
}
