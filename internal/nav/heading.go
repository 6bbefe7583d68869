// Package nav turns raw player movement input into graph traversals: heading
// tracking for relative directions, exit-hint debouncing and the move
// pipeline itself.
package nav

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openmud/aether/internal/direction"
)

// headingTTL bounds how long a stored heading stays relevant. A player who
// has not moved for a day gets a fresh start.
const headingTTL = 24 * time.Hour

// HeadingStore remembers the last direction each player moved, so relative
// input ("left", "back") can be resolved. Implementations are best-effort;
// the pipeline treats a miss and an error the same way.
type HeadingStore interface {
	Get(ctx context.Context, playerGUID string) (direction.Direction, error)
	Set(ctx context.Context, playerGUID string, d direction.Direction) error
}

// MemoryHeadingStore keeps headings in-process. Suitable for single-node
// deployments and tests.
type MemoryHeadingStore struct {
	mu       sync.RWMutex
	headings map[string]direction.Direction
}

// NewMemoryHeadingStore builds an empty in-process heading store.
func NewMemoryHeadingStore() *MemoryHeadingStore {
	return &MemoryHeadingStore{headings: make(map[string]direction.Direction)}
}

// Get implements HeadingStore.
func (s *MemoryHeadingStore) Get(_ context.Context, playerGUID string) (direction.Direction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headings[playerGUID], nil
}

// Set implements HeadingStore.
func (s *MemoryHeadingStore) Set(_ context.Context, playerGUID string, d direction.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headings[playerGUID] = d
	return nil
}

// RedisHeadingStore shares headings across nodes.
type RedisHeadingStore struct {
	client *redis.Client
}

// NewRedisHeadingStore builds a heading store over the given redis client.
func NewRedisHeadingStore(client *redis.Client) *RedisHeadingStore {
	return &RedisHeadingStore{client: client}
}

func headingKey(playerGUID string) string {
	return "aether:heading:" + playerGUID
}

// Get implements HeadingStore.
func (s *RedisHeadingStore) Get(ctx context.Context, playerGUID string) (direction.Direction, error) {
	val, err := s.client.Get(ctx, headingKey(playerGUID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return direction.Direction(val), nil
}

// Set implements HeadingStore.
func (s *RedisHeadingStore) Set(ctx context.Context, playerGUID string, d direction.Direction) error {
	return s.client.Set(ctx, headingKey(playerGUID), string(d), headingTTL).Err()
}
