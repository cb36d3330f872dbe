// Package middleware provides shared gin middleware for the HTTP layer.
package middleware

import (
	"context"
	"time"

	"carecall_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID attaches a request id to the context and response headers so
// log lines from one request can be correlated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestTimer logs each request with method, path, status and latency.
func RequestTimer(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := float64(time.Since(start).Microseconds()) / 1000.0
		log.WithContext(c.Request.Context()).HTTPRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			latency,
			c.ClientIP(),
		)
	}
}
