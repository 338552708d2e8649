package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefixRl = "rl" // rate windows: rl:<xxhash(ip|target)> -> RateWindow json
)

// RateLimitService is a fixed window counter stored in redis.
// Read-modify-write races may admit slightly more than limit requests.
type RateLimitService struct {
	redisClient *redis.Client
	window      time.Duration
	ttl         time.Duration
	now         func() time.Time
}

func NewRateLimitService(env *types.Environment, windowSeconds int) *RateLimitService {
	window := time.Duration(windowSeconds) * time.Second
	return &RateLimitService{
		redisClient: env.RedisClient,
		window:      window,
		ttl:         2 * window,
		now:         time.Now,
	}
}

// RateKey composes the rate limit key from the client ip and the recipient identity
func RateKey(ip string, target string) string {
	return fmt.Sprintf("%s:%x", redisPrefixRl, xxhash.Sum64String(ip+"|"+strings.ToLower(target)))
}

// LimitFor returns the strict limit for targets that are literal email addresses
func LimitFor(target string) int {
	if strings.Contains(target, "@") {
		return global.Conf.RateLimit.StrictLimit
	}
	return global.Conf.RateLimit.Limit
}

// Check counts the request against the window of key. Store errors fail open.
func (rl *RateLimitService) Check(ctx context.Context, key string, limit int) types.RateDecision {
	now := rl.now().UTC().UnixMilli()
	windowMs := rl.window.Milliseconds()

	var window types.RateWindow
	raw, err := rl.redisClient.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		raw = nil
	case err != nil:
		level.Error(global.Logger).Log("msg", "rate limit read failed", "key", key, "err", err)
		return types.RateDecision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: now + windowMs}
	}

	if raw != nil {
		if uErr := json.Unmarshal(raw, &window); uErr != nil {
			raw = nil
		}
	}

	if raw == nil || window.Start <= now-windowMs {
		window = types.RateWindow{Count: 1, Start: now}
		rl.store(ctx, key, window)
		return types.RateDecision{Allowed: true, Limit: limit, Remaining: max(limit-1, 0), ResetAt: now + windowMs}
	}

	resetAt := window.Start + windowMs
	if window.Count >= limit {
		retryAfter := int((resetAt - now + 999) / 1000)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return types.RateDecision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	window.Count++
	rl.store(ctx, key, window)
	return types.RateDecision{Allowed: true, Limit: limit, Remaining: max(limit-window.Count, 0), ResetAt: resetAt}
}

func (rl *RateLimitService) store(ctx context.Context, key string, window types.RateWindow) {
	b, _ := json.Marshal(window)
	if err := rl.redisClient.Set(ctx, key, b, rl.ttl).Err(); err != nil {
		level.Error(global.Logger).Log("msg", "rate limit write failed", "key", key, "err", err)
	}
}
