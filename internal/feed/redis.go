package feed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of *redis.Client used by RedisSource.
type RedisClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSource carries change signals between processes over Redis pub/sub.
type RedisSource struct {
	client RedisClient
	logger *zap.Logger
}

func NewRedisSource(client RedisClient, logger *zap.Logger) *RedisSource {
	return &RedisSource{client: client, logger: logger}
}

// Channel is the pub/sub channel for a restaurant.
func Channel(restaurantID string) string {
	return "orders:" + restaurantID
}

func (s *RedisSource) Watch(ctx context.Context, restaurantID string) (<-chan struct{}, error) {
	ps := s.client.Subscribe(ctx, Channel(restaurantID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(restaurantID), err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer ps.Close()
		forward(ctx, ps.Channel(), out)
	}()
	return out, nil
}

// forward turns pub/sub messages into coalesced signals until ctx is done or in closes.
func forward(ctx context.Context, in <-chan *redis.Message, out chan struct{}) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			signal(out)
		}
	}
}

// Notify publishes a change signal. Failures are logged.
func (s *RedisSource) Notify(ctx context.Context, restaurantID string) {
	if err := s.client.Publish(ctx, Channel(restaurantID), "changed").Err(); err != nil {
		s.logger.Warn("feed notify failed",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
	}
}
