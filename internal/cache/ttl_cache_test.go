package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	byokdomain "github.com/opsbase/tally/internal/byok/domain"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1, time.Minute)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	c.Set("a", 2, time.Minute)
	got, _ = c.Get("a")
	assert.Equal(t, 2, got)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("a", "value", 10*time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	c.Delete("a")
}

func TestTTLCacheRejectsNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i%10, i, time.Minute)
			c.Get(i % 10)
			c.Delete(i % 10)
		}(i)
	}
	wg.Wait()
}

func TestRouteResolverCacheKeyNormalization(t *testing.T) {
	c := NewRouteResolverCache()
	creds := []byokdomain.BYOKCredential{{Provider: "openai"}}

	c.SetCredentials(" Org1 ", "User2", creds)
	got, ok := c.GetCredentials("org1", "user2")
	assert.True(t, ok)
	assert.Equal(t, creds, got)

	c.Invalidate("ORG1", "USER2")
	_, ok = c.GetCredentials("org1", "user2")
	assert.False(t, ok)
}
