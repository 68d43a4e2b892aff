package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/pulseops/ai-gateway/internal/shared/redis"
)

const window = time.Minute

// Result reports one admission decision plus the header values the handler
// must surface.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a per-key sliding-window gate over Redis sorted sets. Each
// request is a member scored by its nanosecond timestamp; the window slides
// by trimming members older than 60 seconds.
type Limiter struct {
	redis *redis.Client
	clock func() time.Time
}

func New(client *redis.Client, clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{redis: client, clock: clock}
}

// Allow admits or rejects one request for the given key. A limit of zero or
// less means unlimited. Concurrent callers are safe: the request is recorded
// before it is counted, in one MULTI/EXEC unit, so every caller's count
// includes its own member and at most limit requests ever see count <= limit.
// Over-admitted members are retracted on denial.
func (l *Limiter) Allow(ctx context.Context, keyID string, limit int) (Result, error) {
	now := l.clock()

	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, Remaining: -1, ResetAt: now}, nil
	}

	redisKey := "ratelimit:" + keyID
	windowStart := now.Add(-window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	rdb := l.redis.Raw()

	pipe := rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, redisKey, &goredis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(countCmd.Val())
	if count > limit {
		// This request lost the race for the last slot. Retract it so it
		// doesn't occupy window space; a failed ZRem is harmless, the trim
		// ages the member out.
		rdb.ZRem(ctx, redisKey, member)

		resetAt, err := l.oldestExpiry(ctx, rdb, redisKey, now)
		if err != nil {
			resetAt = now.Add(window)
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   now.Add(window),
	}, nil
}

// oldestExpiry returns when the oldest in-window request leaves the window,
// which is when the next slot frees up.
func (l *Limiter) oldestExpiry(ctx context.Context, rdb *goredis.Client, redisKey string, now time.Time) (time.Time, error) {
	oldest, err := rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return now.Add(window), err
	}
	return time.Unix(0, int64(oldest[0].Score)).In(now.Location()).Add(window), nil
}
