// Package redis holds the durable cross-session indicators. The only one
// today is the "processor warmed" flag; losing it is harmless, so every
// failure here is logged and swallowed by the caller.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cutoutlab/cutout/internal/domain"
)

const warmedKey = "cutout:processor_warmed"

// WarmupStore persists the processor-warmed flag in redis.
type WarmupStore struct {
	rdb *goredis.Client
}

var _ domain.WarmupStore = (*WarmupStore)(nil)

func NewWarmupStore(rdb *goredis.Client) *WarmupStore {
	return &WarmupStore{rdb: rdb}
}

func (s *WarmupStore) IsWarmed(ctx context.Context) (bool, error) {
	val, err := s.rdb.Get(ctx, warmedKey).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read warmed flag: %w", err)
	}
	return val == "1", nil
}

func (s *WarmupStore) MarkWarmed(ctx context.Context) error {
	if err := s.rdb.Set(ctx, warmedKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("write warmed flag: %w", err)
	}
	return nil
}

// NewClient connects to redis and verifies the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	client.AddHook(NewCircuitBreakerHook())

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
