package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisIdempotencyStore records handled request ids per room. Entries carry a
// short TTL; a surviving entry means the request was already handled.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, roomCode, requestID string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyKey(roomCode, requestID)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency probe %s/%s: %w", roomCode, requestID, err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, roomCode, requestID string) error {
	err := s.client.Set(ctx, idempotencyKey(roomCode, requestID), "1", s.ttl).Err()
	if err != nil {
		return fmt.Errorf("idempotency mark %s/%s: %w", roomCode, requestID, err)
	}
	return nil
}

func idempotencyKey(roomCode, requestID string) string {
	return "idempotency:" + roomCode + ":" + requestID
}
