package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session correlates a payment memo with the demand that produced it, so a
// later proof submission can be matched to what was quoted.
type Session struct {
	Memo      string    `json:"memo"`
	Kind      string    `json:"kind"` // execute | chain
	Amount    int64     `json:"amount"`
	Token     string    `json:"token"`
	Task      string    `json:"task,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore persists pending payment sessions with a TTL.
// Get returns (nil, nil) for unknown or expired memos.
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, memo string) (*Session, error)
}

// MemorySessionStore is the in-process fallback when no redis is configured.
type MemorySessionStore struct {
	mu    sync.Mutex
	items map[string]memorySession
	ttl   time.Duration
}

type memorySession struct {
	session   *Session
	expiresAt time.Time
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		items: make(map[string]memorySession),
		ttl:   ttl,
	}
}

// Put implements SessionStore.
func (s *MemorySessionStore) Put(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[session.Memo] = memorySession{
		session:   session,
		expiresAt: time.Now().Add(s.ttl),
	}
	// Opportunistic sweep keeps the map from growing unbounded.
	now := time.Now()
	for memo, item := range s.items {
		if now.After(item.expiresAt) {
			delete(s.items, memo)
		}
	}
	return nil
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, memo string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[memo]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, nil
	}
	return item.session, nil
}

// RedisSessionStore keeps sessions in redis so multiple registry instances
// can serve the 402 round trip.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore connects to redis using a URL
// (redis://host:port/db form).
func NewRedisSessionStore(redisURL string, ttl time.Duration) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisSessionStore{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

// Ping verifies connectivity at startup.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the redis connection.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func sessionKey(memo string) string {
	return "x402:session:" + memo
}

// Put implements SessionStore.
func (s *RedisSessionStore) Put(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.Memo), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get implements SessionStore.
func (s *RedisSessionStore) Get(ctx context.Context, memo string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(memo)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("corrupt session for memo %s: %w", memo, err)
	}
	return session, nil
}
