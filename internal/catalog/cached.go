package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL is used when NewCachedStore is given a zero TTL.
const DefaultCacheTTL = 10 * time.Minute

// Cache is the subset of *redis.Client used by CachedStore.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedStore is a read-through cache in front of another Reader.
// Cache failures fall through to the underlying store.
type CachedStore struct {
	next     Reader
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewCachedStore(next Reader, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{next: next, cache: cache, cacheTTL: ttl, logger: logger}
}

func (s *CachedStore) GetRole(ctx context.Context, restaurantID, roleID string) (*Role, error) {
	key := fmt.Sprintf("catalog:%s:role:%s", restaurantID, roleID)
	var r Role
	if s.lookup(ctx, key, &r) {
		return &r, nil
	}
	role, err := s.next.GetRole(ctx, restaurantID, roleID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, role)
	return role, nil
}

func (s *CachedStore) ListRoles(ctx context.Context, restaurantID string) ([]Role, error) {
	key := fmt.Sprintf("catalog:%s:roles", restaurantID)
	var roles []Role
	if s.lookup(ctx, key, &roles) {
		return roles, nil
	}
	roles, err := s.next.ListRoles(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, roles)
	return roles, nil
}

func (s *CachedStore) GetMenuItem(ctx context.Context, restaurantID, itemID string) (*MenuItem, error) {
	key := fmt.Sprintf("catalog:%s:item:%s", restaurantID, itemID)
	var m MenuItem
	if s.lookup(ctx, key, &m) {
		return &m, nil
	}
	item, err := s.next.GetMenuItem(ctx, restaurantID, itemID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, item)
	return item, nil
}

func (s *CachedStore) ListMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	key := fmt.Sprintf("catalog:%s:items", restaurantID)
	var items []MenuItem
	if s.lookup(ctx, key, &items) {
		return items, nil
	}
	items, err := s.next.ListMenuItems(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, items)
	return items, nil
}

func (s *CachedStore) lookup(ctx context.Context, key string, out interface{}) bool {
	val, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		s.logger.Warn("catalog cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *CachedStore) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
	}
}
