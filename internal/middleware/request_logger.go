package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelbay/modelbay/internal/logger"
)

// RequestLogger logs every request and its outcome at debug level
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Health probes are frequent and never interesting
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.DebugStructured("HTTP request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("took", time.Since(start).Round(time.Microsecond)),
			logger.Int("bytes", c.Writer.Size()),
			logger.String("ip", c.ClientIP()),
		)
	}
}

// ErrorLogger logs errors attached to the gin context by handlers
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.ErrorStructured("Request error",
				logger.String("method", c.Request.Method),
				logger.String("path", c.Request.URL.Path),
				logger.Err("error", err.Err),
			)
		}
	}
}
