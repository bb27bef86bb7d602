package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Errors != nil {
			slog.Warn("control plane request",
				"method", c.Request.Method,
				"status", c.Writer.Status(),
				"path", c.Request.URL.Path,
				"errors", c.Errors.String(),
			)
			return
		}
		slog.Debug("control plane request",
			"method", c.Request.Method,
			"status", c.Writer.Status(),
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
		)
	}
}
