// Package snapshot provides a Redis-backed status snapshot store. It lets
// several client processes on one machine share the last confirmed status per
// translation, so a restarted CLI resumes with the latest known progress
// instead of a cold "pending" snapshot.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentranslator/client/internal/document"
)

const (
	keySnapshot = "opentranslator:snapshot:"

	// Translations expire server-side after roughly a day, so stale
	// snapshots are useless beyond that.
	defaultTTL = 24 * time.Hour
)

// RedisStore implements document.SnapshotStore on top of Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at addr and verifies the connection
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: defaultTTL}, nil
}

// NewRedisStoreFromClient wraps an existing client, for tests and shared pools
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: defaultTTL}
}

// Client exposes the underlying connection for health probes
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get retrieves the stored snapshot for processID. The second return value is
// false when no snapshot exists.
func (s *RedisStore) Get(ctx context.Context, processID string) (document.StatusSnapshot, bool, error) {
	data, err := s.client.Get(ctx, keySnapshot+processID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return document.StatusSnapshot{}, false, nil
		}
		return document.StatusSnapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap document.StatusSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return document.StatusSnapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snap, true, nil
}

// Put stores snap under its process ID with the store TTL
func (s *RedisStore) Put(ctx context.Context, snap document.StatusSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.client.Set(ctx, keySnapshot+snap.ProcessID, data, s.ttl).Err()
}

// Delete removes the snapshot for processID; missing keys are a no-op
func (s *RedisStore) Delete(ctx context.Context, processID string) error {
	return s.client.Del(ctx, keySnapshot+processID).Err()
}
