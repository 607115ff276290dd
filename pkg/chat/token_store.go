package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/staff-portal-api/pkg/cache"
)

const tokenKey = "access_token"

// TokenStore keeps the current access token for the chat platform.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

// MemoryTokenStore holds the token in process.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{now: time.Now}
}

func (s *MemoryTokenStore) Get(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || (!s.expires.IsZero() && !s.now().Before(s.expires)) {
		return "", cache.ErrMiss
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Set(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expires = time.Time{}
	if ttl > 0 {
		s.expires = s.now().Add(ttl)
	}
	return nil
}

// RedisTokenStore shares the token across API instances.
type RedisTokenStore struct {
	store *cache.Store
}

func NewRedisTokenStore(store *cache.Store) *RedisTokenStore {
	return &RedisTokenStore{store: store}
}

func (s *RedisTokenStore) Get(ctx context.Context) (string, error) {
	token, err := s.store.Get(ctx, tokenKey)
	if errors.Is(err, cache.ErrMiss) {
		return "", cache.ErrMiss
	}
	return token, err
}

func (s *RedisTokenStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	// Expire 30s ahead of the platform deadline.
	if ttl > time.Minute {
		ttl -= 30 * time.Second
	}
	return s.store.Set(ctx, tokenKey, token, ttl)
}
