package ratelimit

import "context"

// RateLimiter bounds outbound delivery throughput per transport key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// DailyCounter tracks actions taken per calendar day across engine
// instances. Day is the calendar date in domain.DateLayout form.
type DailyCounter interface {
	Increment(ctx context.Context, day string) (int64, error)
	Get(ctx context.Context, day string) (int64, error)
}
