package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// machine readable error codes
const (
	ErrCodeValidation      = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeForbiddenOrigin = "forbidden_origin"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeTooLarge        = "payload_too_large"
	ErrCodeUpstream        = "upstream_error"
	ErrCodeInternal        = "internal_error"
)

type ApiError struct {
	// Code is the HTTP status code
	Code int `json:"code"`
	// Message is the error message
	Message string `json:"message"`
	// Error is the machine readable error code
	Error string `json:"error"`
}

func ApiErrorf(c *gin.Context, code int, errCode string, format string, args ...interface{}) ApiError {
	ar := ApiError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Error:   errCode,
	}
	c.AbortWithStatusJSON(code, ar)
	return ar
}
