package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/pkg/dto"
)

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		slog.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())
	}
}

// multipartSlack covers the multipart envelope around an upload of the
// maximum size.
const multipartSlack = 1 << 20

// BodyLimitMiddleware caps request bodies at limit plus multipart overhead,
// so oversized uploads are cut off before they are parsed or spooled to disk.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		capBytes := limit + multipartSlack
		if c.Request.ContentLength > capBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("upload exceeds %d bytes", limit),
				Code:  apperr.Code(apperr.ErrInvalidMedia),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, capBytes)
		c.Next()
	}
}
