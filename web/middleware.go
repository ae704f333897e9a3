package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxInboxBody limits inbox payloads.
const MaxInboxBody = activitypub.MaxBodySize

// MaxBytesMiddleware limits the size of request bodies
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequireActivityPub answers 406 unless the client asks for ActivityPub
// JSON. There is no HTML rendering of federated objects.
func RequireActivityPub() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !activitypub.AcceptsActivityPub(c.GetHeader("Accept")) {
			c.JSON(http.StatusNotAcceptable, gin.H{
				"error": "only " + activitypub.ContentType + " is served here",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request at debug level and server errors at
// error level.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
