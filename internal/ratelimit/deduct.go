package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsbase/tally/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyDeductOrg = "ledger:deduct:org:%s"
	keySweepLock = "allocation:sweep:lock"
	sweepLockTTL = time.Minute
)

// DeductLimiter throttles ledger deductions per organization. A nil limiter
// means the feature is off and every call is allowed.
type DeductLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewDeductLimiter(cfg config.Config) (*DeductLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.DeductRate <= 0 || limitCfg.DeductBurst <= 0 {
		return nil, errors.New("deduct rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   limitCfg.RedisDB,
	})

	lockTTL := limitCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = sweepLockTTL
	}

	return &DeductLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.DeductRate,
		burst:   limitCfg.DeductBurst,
		lockTTL: lockTTL,
	}, nil
}

func (l *DeductLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowOrg reports whether the organization may run another deduction now.
func (l *DeductLimiter) AllowOrg(ctx context.Context, orgID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDeductOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}

// TryLockSweep claims the cluster-wide sweeper lock so only one replica
// sweeps expired allocations at a time.
func (l *DeductLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, l.lockTTL)
}

func (l *DeductLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
