// Package sweeper periodically retires allocations whose expiry has passed,
// returning each unused remainder to its organization pool.
package sweeper

import (
	"context"
	"time"

	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	"github.com/opsbase/tally/internal/config"
	"github.com/opsbase/tally/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	AllocSv allocationdomain.Service
	Limiter *ratelimit.DeductLimiter `optional:"true"`
}

type Worker struct {
	log      *zap.Logger
	interval time.Duration
	allocSvc allocationdomain.Service
	limiter  *ratelimit.DeductLimiter
}

func NewWorker(p Params) *Worker {
	interval := p.Cfg.AllocationSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		log:      p.Log.Named("allocation.sweeper"),
		interval: interval,
		allocSvc: p.AllocSv,
		limiter:  p.Limiter,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepOnce runs one sweep pass behind the cluster-wide lock so only one
// replica retires expired allocations at a time.
func (w *Worker) sweepOnce(ctx context.Context) {
	token, locked, err := w.limiter.TryLockSweep(ctx)
	if err != nil {
		w.log.Warn("sweep lock failed", zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := w.limiter.ReleaseSweep(ctx, token); err != nil {
			w.log.Warn("sweep unlock failed", zap.Error(err))
		}
	}()

	if _, err := w.allocSvc.SweepExpired(ctx); err != nil {
		w.log.Warn("allocation sweep failed", zap.Error(err))
	}
}

var Module = fx.Module("allocation.sweeper",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
