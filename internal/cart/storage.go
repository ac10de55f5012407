package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned when a serialized cart exceeds the storage limit.
var ErrQuotaExceeded = errors.New("cart storage quota exceeded")

// Storage persists cart lines. Load returns (nil, nil) for an unknown key.
type Storage interface {
	Load(ctx context.Context, key Key) ([]Line, error)
	Save(ctx context.Context, key Key, lines []Line) error
	Delete(ctx context.Context, key Key) error
}

// RedisClient is the subset of *redis.Client used by RedisStorage.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStorage stores each cart as a JSON value with a sliding TTL.
type RedisStorage struct {
	client   RedisClient
	ttl      time.Duration
	maxBytes int
}

// NewRedisStorage returns a RedisStorage; maxBytes <= 0 disables the size limit.
func NewRedisStorage(client RedisClient, ttl time.Duration, maxBytes int) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl, maxBytes: maxBytes}
}

func (s *RedisStorage) Load(ctx context.Context, key Key) ([]Line, error) {
	val, err := s.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var lines []Line
	if err := json.Unmarshal([]byte(val), &lines); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return lines, nil
}

func (s *RedisStorage) Save(ctx context.Context, key Key, lines []Line) error {
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, len(data), s.maxBytes)
	}
	if err := s.client.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryStorage keeps carts in process memory.
type MemoryStorage struct {
	mu       sync.Mutex
	carts    map[string][]byte
	maxBytes int
}

func NewMemoryStorage(maxBytes int) *MemoryStorage {
	return &MemoryStorage{carts: map[string][]byte{}, maxBytes: maxBytes}
}

func (s *MemoryStorage) Load(ctx context.Context, key Key) ([]Line, error) {
	s.mu.Lock()
	data, ok := s.carts[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var lines []Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return lines, nil
}

func (s *MemoryStorage) Save(ctx context.Context, key Key, lines []Line) error {
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, len(data), s.maxBytes)
	}
	s.mu.Lock()
	s.carts[key.String()] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	delete(s.carts, key.String())
	s.mu.Unlock()
	return nil
}

// Has reports whether a cart is stored under key.
func (s *MemoryStorage) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[key.String()]
	return ok
}
