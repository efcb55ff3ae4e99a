package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-app/realtime/pkg/model"
)

const presenceKeyPrefix = "presence:"

// Store persists presence records so other processes (the api service) can
// answer bulk status reads. Writes are best-effort from the tracker's point
// of view.
type Store interface {
	Save(ctx context.Context, s model.PresenceStatus) error
	Load(ctx context.Context, userID string) (model.PresenceStatus, error)
	LoadMany(ctx context.Context, userIDs []string) ([]model.PresenceStatus, error)
}

// RedisStore keeps one JSON record per user id.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func presenceKey(userID string) string { return presenceKeyPrefix + userID }

func (r *RedisStore) Save(ctx context.Context, s model.PresenceStatus) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, presenceKey(s.UserID), data, 0).Err()
}

func (r *RedisStore) Load(ctx context.Context, userID string) (model.PresenceStatus, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Never-seen users read as offline.
		return model.PresenceStatus{UserID: userID}, nil
	}
	if err != nil {
		return model.PresenceStatus{}, err
	}
	var s model.PresenceStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return model.PresenceStatus{}, err
	}
	return s, nil
}

func (r *RedisStore) LoadMany(ctx context.Context, userIDs []string) ([]model.PresenceStatus, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.PresenceStatus, 0, len(userIDs))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			out = append(out, model.PresenceStatus{UserID: userIDs[i]})
			continue
		}
		var s model.PresenceStatus
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			out = append(out, model.PresenceStatus{UserID: userIDs[i]})
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// MemoryStore is an in-process Store for tests and single-binary setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.PresenceStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.PresenceStatus)}
}

func (m *MemoryStore) Save(_ context.Context, s model.PresenceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[s.UserID] = s
	return nil
}

func (m *MemoryStore) Load(_ context.Context, userID string) (model.PresenceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.records[userID]; ok {
		return s, nil
	}
	return model.PresenceStatus{UserID: userID}, nil
}

func (m *MemoryStore) LoadMany(_ context.Context, userIDs []string) ([]model.PresenceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PresenceStatus, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := m.records[id]; ok {
			out = append(out, s)
		} else {
			out = append(out, model.PresenceStatus{UserID: id})
		}
	}
	return out, nil
}
