package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript atomically prunes the window, checks the limit, and records the
// request. KEYS[1] is the window key; ARGV: window-start millis, limit,
// now millis, member, TTL millis.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return 1
end
return 0
`)

// RedisLimiter is a Limiter backed by Redis sorted sets, for deployments
// that run more than one engine process and need shared rate state per
// tenant. Keys are scoped per (tenant, operation); no cross-tenant state.
type RedisLimiter struct {
	client   *redis.Client
	policies map[OperationKind]Policy
	now      func() time.Time
}

// NewRedisLimiter creates a RedisLimiter with the given policies. Nil
// policies fall back to DefaultPolicies.
func NewRedisLimiter(client *redis.Client, policies map[OperationKind]Policy) *RedisLimiter {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &RedisLimiter{client: client, policies: policies, now: time.Now}
}

// ConnectRedis creates a Redis client from a URL and verifies connectivity.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) key(tenantID string, op OperationKind) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, op)
}

// Admit runs the check-and-record script. Redis errors are returned so the
// polling loop can classify them as transient and keep going.
func (l *RedisLimiter) Admit(ctx context.Context, tenantID string, op OperationKind) (bool, error) {
	policy, ok := l.policies[op]
	if !ok {
		return true, nil
	}

	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - policy.Window.Milliseconds()
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano()%1000)

	res, err := admitScript.Run(ctx, l.client, []string{l.key(tenantID, op)},
		windowStart, policy.Limit, nowMs, member, policy.Window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit check: %w", err)
	}

	admitted := res == 1
	if !admitted {
		slog.Debug("RedisLimiter denied request", "tenantID", tenantID, "op", op, "limit", policy.Limit)
	}
	return admitted, nil
}

// Reset drops all windows for a tenant.
func (l *RedisLimiter) Reset(ctx context.Context, tenantID string) {
	for op := range l.policies {
		if err := l.client.Del(ctx, l.key(tenantID, op)).Err(); err != nil {
			slog.Warn("RedisLimiter reset failed", "error", err, "tenantID", tenantID, "op", op)
		}
	}
}
