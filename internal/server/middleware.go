package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/gigledger/internal/observability/context"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderActorID  = "X-Actor-Id"
	HeaderClientID = "X-Client-Id"

	actorTypeUser = "user"
	actorTypeOps  = "ops"
)

// ActorContext tags the request context with the calling actor for logs.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorType, actorID := actorTypeOps, "api"
		if id := strings.TrimSpace(c.GetHeader(HeaderActorID)); id != "" {
			actorType, actorID = actorTypeUser, id
		}
		ctx := obscontext.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// PublishRateLimit throttles POST /api/events per client through the Redis token bucket.
func (s *Server) PublishRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		client := rateLimitClient(c)
		result, err := s.limiter.Allow(ctx, client)
		if err != nil {
			logger.FromContext(ctx).Warn("publish rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyPublish(ctx, c, client, int(math.Ceil(result.RetryAfter.Seconds())))
			s.metrics.IncPublishRateLimit("denied")
			return
		}

		s.metrics.IncPublishRateLimit("allowed")
		c.Next()
	}
}

func denyPublish(ctx context.Context, c *gin.Context, client string, retryAfter int) {
	logger.FromContext(ctx).Warn("publish rate limit exceeded",
		zap.String("client", client),
		zap.String("endpoint", normalizeRateLimitEndpoint(c)),
	)
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	AbortWithError(c, ErrRateLimited)
}

func rateLimitClient(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(HeaderClientID)); id != "" {
		return id
	}
	return c.ClientIP()
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
