package api

import (
	"crypto/subtle"
	"time"

	apperrors "propiq-billing/internal/common/errors"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader carries the shared secret for /admin routes.
const AdminTokenHeader = "X-Admin-Token"

// observe records every request in the OTel meter and the access log.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		if s.deps.Observability != nil {
			s.deps.Observability.RecordRequest(c.Request.Context(), route, c.Writer.Status(), elapsed)
		}
		s.logger.Debug("request", map[string]interface{}{
			"method":     c.Request.Method,
			"route":      route,
			"status":     c.Writer.Status(),
			"durationMs": elapsed.Milliseconds(),
		})
	}
}

// requireAdmin rejects every request when no admin token is configured.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminTokenHeader)
		want := s.deps.AdminToken
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.respondError(c, apperrors.NewUnauthorizedError("admin token missing or invalid"))
			c.Abort()
			return
		}
		c.Next()
	}
}
