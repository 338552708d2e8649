package interceptors

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	apiutil "github.com/formrelay/go-formrelay-server/api/util"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis_rate/v10"
)

const redisPrefixBurst = "burst:"

// BurstLimitMiddleware limits requests per second per client and route (token guessing on /verify).
// The limiter fails open when redis is unavailable.
func BurstLimitMiddleware(perSecond int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := apiutil.ClientIP(c)
		hash := xxhash.Sum64String(ip + "|" + c.FullPath())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		result, err := global.RateLimiter.Allow(ctx, redisPrefixBurst+strconv.FormatUint(hash, 10), redis_rate.PerSecond(perSecond))
		if err != nil {
			level.Warn(global.Logger).Log("msg", "burst limiter unavailable", "err", err)
			c.Next()
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit.Rate))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
		if result.Allowed <= 0 {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Writer.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "too many requests", "error": "rate_limited"})
			return
		}
		c.Next()
	}
}
