package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/pkg/dto"
)

const headerName = "X-API-Key"

// APIKeyMiddleware gates service-to-service calls on X-API-Key. Any of keys
// is accepted so a key can be rotated without downtime. Empty keys are
// ignored; with none left the gate is open.
func APIKeyMiddleware(keys ...string) gin.HandlerFunc {
	var accepted [][]byte
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}
	return func(c *gin.Context) {
		if len(accepted) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			abort(c, http.StatusUnauthorized, "missing API key", "Unauthenticated")
			return
		}
		for _, k := range accepted {
			if subtle.ConstantTimeCompare([]byte(provided), k) == 1 {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "invalid API key", "Forbidden")
	}
}

func abort(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg, Code: code})
}
