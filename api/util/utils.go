package apiutil

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// GetIPFromContext returns the client ip. X-Forwarded-For and X-Real-IP are only honored
// when the immediate peer is one of the engine's trusted proxies.
func GetIPFromContext(c *gin.Context) (*string, error) {
	ip := c.ClientIP()
	if ip == "" {
		return nil, errors.New("client ip unknown")
	}
	return &ip, nil
}

// ClientIP returns the client ip or "unknown"
func ClientIP(c *gin.Context) string {
	ip, err := GetIPFromContext(c)
	if err != nil || ip == nil {
		return "unknown"
	}
	return *ip
}

// PrefersHTML reports whether the caller negotiates HTML over JSON (browser form posts).
// AJAX callers and requests without an Accept header get JSON.
func PrefersHTML(c *gin.Context) bool {
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return false
	}
	if c.GetHeader("Accept") == "" {
		return false
	}
	return c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML
}

// RequestOrigin returns the Origin header, falling back to the Referer
func RequestOrigin(c *gin.Context) string {
	if origin := c.GetHeader("Origin"); origin != "" && origin != "null" {
		return origin
	}
	return c.GetHeader("Referer")
}
