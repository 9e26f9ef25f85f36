package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger emits one structured line per request at info level,
// mirroring the component-tagged logging used throughout the rest of
// the service rather than gin's own default logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// rateLimit enforces spec §6's fixed-window cap on every /api/* route,
// keyed by client address. On breach it responds 429 with
// {success:false, error, retryAfter} and aborts the chain.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := s.limiter.Allow(c.ClientIP())
		if !decision.Allowed {
			c.AbortWithStatusJSON(429, gin.H{
				"success":     false,
				"error":       "rate limit exceeded",
				"retryAfter":  decision.RetryAfter.Milliseconds(),
			})
			return
		}
		c.Next()
	}
}
