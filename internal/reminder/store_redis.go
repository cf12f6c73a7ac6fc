package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a principal's collection as a JSON string value.
// It is used as a fast-path cache in front of the durable store.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed store. A zero ttl means keys
// do not expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, principal string) ([]ReminderItem, error) {
	payload, err := s.client.Get(ctx, StorageKey(principal)).Result()
	if err == redis.Nil {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}
	return decodeItems([]byte(payload))
}

func (s *RedisStore) Save(ctx context.Context, principal string, items []ReminderItem) error {
	payload, err := encodeItems(items)
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	if err := s.client.Set(ctx, StorageKey(principal), string(payload), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
