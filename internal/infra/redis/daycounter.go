package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/churnguard/intervention-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// Day keys outlive the day they count so a late reader still sees them.
const dayCounterTTL = 48 * time.Hour

var _ ratelimit.DailyCounter = (*RedisDayCounter)(nil)

// RedisDayCounter is the shared per-day action counter. Every engine
// instance increments the same day-scoped key, so the daily count survives
// restarts and is consistent across replicas.
type RedisDayCounter struct {
	client *goredis.Client
}

func NewRedisDayCounter(client *goredis.Client) (*RedisDayCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisDayCounter{client: client}, nil
}

func (c *RedisDayCounter) Increment(ctx context.Context, day string) (int64, error) {
	key, err := dayKey(day)
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment day counter: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, dayCounterTTL).Err(); err != nil {
			return count, fmt.Errorf("failed to set day counter expiry: %w", err)
		}
	}

	return count, nil
}

func (c *RedisDayCounter) Get(ctx context.Context, day string) (int64, error) {
	key, err := dayKey(day)
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := c.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read day counter: %w", err)
	}

	return count, nil
}

func dayKey(day string) (string, error) {
	trimmed := strings.TrimSpace(day)
	if trimmed == "" {
		return "", fmt.Errorf("day is required")
	}
	return fmt.Sprintf("actions:%s", trimmed), nil
}
