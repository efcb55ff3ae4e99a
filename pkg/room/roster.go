package room

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const rosterKey = "room:" + Public + ":users"

// Roster is the persisted set of user ids currently in the room. The api
// service reads it to report the online count without talking to the
// gateway.
type Roster interface {
	Add(ctx context.Context, userID string) error
	Remove(ctx context.Context, userID string) error
	Count(ctx context.Context) (int64, error)
	Members(ctx context.Context) ([]string, error)
}

// RedisRoster keeps the membership in a Redis set.
type RedisRoster struct {
	client *redis.Client
}

func NewRedisRoster(client *redis.Client) *RedisRoster {
	return &RedisRoster{client: client}
}

func (r *RedisRoster) Add(ctx context.Context, userID string) error {
	return r.client.SAdd(ctx, rosterKey, userID).Err()
}

func (r *RedisRoster) Remove(ctx context.Context, userID string) error {
	return r.client.SRem(ctx, rosterKey, userID).Err()
}

func (r *RedisRoster) Count(ctx context.Context) (int64, error) {
	return r.client.SCard(ctx, rosterKey).Result()
}

func (r *RedisRoster) Members(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, rosterKey).Result()
}

// MemoryRoster is an in-process Roster for tests.
type MemoryRoster struct {
	mu    sync.Mutex
	users map[string]struct{}
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{users: make(map[string]struct{})}
}

func (m *MemoryRoster) Add(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = struct{}{}
	return nil
}

func (m *MemoryRoster) Remove(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}

func (m *MemoryRoster) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *MemoryRoster) Members(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out, nil
}
