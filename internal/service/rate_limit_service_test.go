package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"buildforge/internal/common/cache"

	appErr "buildforge/pkg/errors"
)

func newTestLimiter(t *testing.T) (*RateLimitService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create redis cache: %v", err)
	}
	return NewRateLimitService(redisCache, time.Minute, time.Second), mr
}

func TestAllowWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.1", 3, time.Minute); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}
	err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.1", 3, time.Minute)
	if appErr.GetCode(err) != appErr.TooManyRequests {
		t.Fatalf("code = %v, want TooManyRequests", appErr.GetCode(err))
	}
}

func TestAllowWindowResets(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.2", 1, time.Minute); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.2", 1, time.Minute); appErr.GetCode(err) != appErr.TooManyRequests {
		t.Fatalf("second call in window not rejected: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.2", 1, time.Minute); err != nil {
		t.Fatalf("call after window rejected: %v", err)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.3", 1, time.Minute); err != nil {
		t.Fatalf("first key rejected: %v", err)
	}
	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.4", 1, time.Minute); err != nil {
		t.Fatalf("second key affected by first: %v", err)
	}
}

func TestAllowZeroMaxDisablesLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.5", 0, time.Minute); err != nil {
			t.Fatalf("call %d rejected with limit disabled: %v", i+1, err)
		}
	}
}

func TestAllowRepairsMissingExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	// Simulate a counter stranded without TTL by a crash between SetNX
	// and expiry bookkeeping.
	if err := mr.Set("ratelimit:ip:10.0.0.6", "1"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	if err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.6", 5, time.Minute); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if mr.TTL("ratelimit:ip:10.0.0.6") <= 0 {
		t.Fatal("expiry was not repaired")
	}
}

func TestAllowNilCache(t *testing.T) {
	limiter := NewRateLimitService(nil, time.Minute, time.Second)
	err := limiter.Allow(context.Background(), "ratelimit:ip:10.0.0.7", 1, time.Minute)
	if appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("code = %v, want ServiceUnavailable", appErr.GetCode(err))
	}
}
