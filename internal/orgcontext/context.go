// Package orgcontext carries the identity resolved by the fronting auth
// layer: the active organization, the calling user and their subscription
// tier. The ledger itself never authenticates anyone.
package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type orgKey struct{}
type userKey struct{}
type tierKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

// WithUserID stores the calling user ID in the context.
func WithUserID(ctx context.Context, userID snowflake.ID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// WithTier stores the caller's subscription tier in the context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, tierKey{}, strings.TrimSpace(tier))
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	return idFromContext(ctx, orgKey{})
}

// UserIDFromContext returns the calling user ID from context, if set.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	return idFromContext(ctx, userKey{})
}

// TierFromContext returns the caller's tier, defaulting to "free".
func TierFromContext(ctx context.Context) string {
	if ctx == nil {
		return "free"
	}
	if tier, ok := ctx.Value(tierKey{}).(string); ok && tier != "" {
		return tier
	}
	return "free"
}

func idFromContext(ctx context.Context, key any) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(key).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, parsed != 0
		}
	}
	return 0, false
}
