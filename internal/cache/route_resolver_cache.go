package cache

import (
	"strings"
	"time"

	byokdomain "github.com/opsbase/tally/internal/byok/domain"
)

const defaultCredentialTTL = 30 * time.Second

// RouteResolverCache stores a user's enabled credentials so route resolution
// on the request path rarely hits the database. Credential writes invalidate
// the entry, so staleness is bounded by the TTL only for out-of-band changes.
type RouteResolverCache interface {
	GetCredentials(orgID, userID string) ([]byokdomain.BYOKCredential, bool)
	SetCredentials(orgID, userID string, creds []byokdomain.BYOKCredential)
	Invalidate(orgID, userID string)
}

type routeResolverCache struct {
	credentials Cache[string, []byokdomain.BYOKCredential]
	ttl         time.Duration
}

// NewRouteResolverCache returns an in-memory cache tuned for route resolution.
func NewRouteResolverCache() RouteResolverCache {
	return &routeResolverCache{
		credentials: NewTTLCache[string, []byokdomain.BYOKCredential](),
		ttl:         defaultCredentialTTL,
	}
}

func (c *routeResolverCache) GetCredentials(orgID, userID string) ([]byokdomain.BYOKCredential, bool) {
	return c.credentials.Get(cacheKey(orgID, userID))
}

func (c *routeResolverCache) SetCredentials(orgID, userID string, creds []byokdomain.BYOKCredential) {
	c.credentials.Set(cacheKey(orgID, userID), creds, c.ttl)
}

func (c *routeResolverCache) Invalidate(orgID, userID string) {
	c.credentials.Delete(cacheKey(orgID, userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
