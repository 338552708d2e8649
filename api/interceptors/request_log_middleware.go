package interceptors

import (
	"time"

	apiutil "github.com/formrelay/go-formrelay-server/api/util"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
)

// RequestLogMiddleware logs every request after it has been served
func RequestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := level.Debug(global.Logger)
		if c.Writer.Status() >= 500 {
			logger = level.Error(global.Logger)
		}
		logger.Log("msg", "request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "ip", apiutil.ClientIP(c), "took", time.Since(start))
	}
}
