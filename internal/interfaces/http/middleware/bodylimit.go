package middleware

import (
	"fmt"
	"net/http"

	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MultipartOverhead is the room given to form fields and part headers on
// top of an attachment
const MultipartOverhead int64 = 64 << 10

// BodyLimitConfig caps request bodies. Routes overrides Default for
// specific routes, keyed by method and gin route pattern, for example
// "POST /api/v1/conversations/:id/messages".
type BodyLimitConfig struct {
	Default int64
	Routes  map[string]int64
	Logger  *zap.Logger
}

// RouteKey builds a BodyLimitConfig.Routes key
func RouteKey(method, pattern string) string {
	return method + " " + pattern
}

// BodyLimit rejects bodies over the route's limit. A declared
// Content-Length is checked up front; streamed bodies are cut off when read.
func BodyLimit(cfg BodyLimitConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		limit := cfg.Default
		if l, ok := cfg.Routes[RouteKey(c.Request.Method, c.FullPath())]; ok {
			limit = l
		}
		if limit <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			logger.Info("Request body over limit",
				zap.String("route", c.FullPath()),
				zap.Int64("content_length", c.Request.ContentLength),
				zap.Int64("limit", limit),
				zap.String("request_id", c.GetString(RequestIDKey)))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRequestTooLarge,
				fmt.Sprintf("Request body exceeds the %d byte limit of this endpoint", limit),
				c.GetString(RequestIDKey),
			))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
