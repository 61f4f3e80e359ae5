package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/opsbase/tally/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderOrg  = "X-Org-ID"
	HeaderUser = "X-User-ID"
	HeaderTier = "X-Tier"
)

// OrgContext lifts the identity headers set by the fronting auth layer into
// the request context. Requests without an organization are rejected before
// any handler runs.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawOrg := strings.TrimSpace(c.GetHeader(HeaderOrg))
		orgID, err := snowflake.ParseString(rawOrg)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)

		if rawUser := strings.TrimSpace(c.GetHeader(HeaderUser)); rawUser != "" {
			if userID, err := snowflake.ParseString(rawUser); err == nil && userID != 0 {
				ctx = orgcontext.WithUserID(ctx, userID)
			}
		}
		if tier := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderTier))); tier != "" {
			ctx = orgcontext.WithTier(ctx, tier)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// DeductRateLimit throttles the deduction endpoint per organization.
func (s *Server) DeductRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		allowed, err := s.limiter.AllowOrg(ctx, orgID.String())
		if err != nil {
			s.log.Warn("deduct rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, c.FullPath(), "org-rate")
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, c.FullPath())
		c.Next()
	}
}
