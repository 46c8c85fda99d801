package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActionRateLimiter throttles abuse-prone write endpoints (vouch recording,
// referral redemption). A nil limiter disables enforcement.
type ActionRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

var actionRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisActionRateLimiter implements distributed rate limiting using Redis.
type RedisActionRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisActionRateLimiter(client redis.UniversalClient, prefix string) *RedisActionRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "lendcircle:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisActionRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisActionRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := actionRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}

// CheckVouchRateLimit enforces the per-user vouch recording limit. It returns
// the retry-after hint in seconds when the caller is over the limit.
func (s *Service) CheckVouchRateLimit(ctx context.Context, subject string) (allowed bool, retryAfterSeconds int) {
	return s.checkRateLimit(ctx, "vouch_record", subject, s.vouchLimitPerMinute)
}

// CheckRedeemRateLimit enforces the per-user referral redemption limit.
func (s *Service) CheckRedeemRateLimit(ctx context.Context, subject string) (allowed bool, retryAfterSeconds int) {
	return s.checkRateLimit(ctx, "referral_redeem", subject, s.redeemLimitPerMinute)
}

func (s *Service) checkRateLimit(ctx context.Context, scope, subject string, limit int) (bool, int) {
	if s.rateLimiter == nil || limit <= 0 {
		return true, 0
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limit, time.Minute)
	if err != nil {
		// Fail open: the limiter being down must not block ledger traffic.
		return true, 0
	}
	if count > limit {
		return false, retryAfter
	}
	return true, 0
}
