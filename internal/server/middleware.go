package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderActorID     = "X-Actor-Id"
	HeaderRequestID   = "X-Request-Id"
	contextActorIDKey = "actor_id"
	defaultActorID    = "system"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// ActorID resolves the acting operator from the X-Actor-Id header. The
// gateway in front of this service authenticates and sets it; absent the
// header, writes are attributed to "system".
func ActorID() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(HeaderActorID)
		if actor == "" {
			actor = defaultActorID
		}
		c.Set(contextActorIDKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return c.GetString(contextActorIDKey)
}
