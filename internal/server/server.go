// Package server exposes the credit ledger over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opsbase/tally/internal/allocation"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	"github.com/opsbase/tally/internal/attribution"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
	"github.com/opsbase/tally/internal/byok"
	byokdomain "github.com/opsbase/tally/internal/byok/domain"
	"github.com/opsbase/tally/internal/config"
	"github.com/opsbase/tally/internal/creditpool"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	"github.com/opsbase/tally/internal/ledger"
	ledgerdomain "github.com/opsbase/tally/internal/ledger/domain"
	obsmetrics "github.com/opsbase/tally/internal/observability/metrics"
	"github.com/opsbase/tally/internal/pricing"
	"github.com/opsbase/tally/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	creditpool.Module,
	allocation.Module,
	attribution.Module,
	ledger.Module,
	byok.Module,
	pricing.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	poolSvc        pooldomain.Service
	allocationSvc  allocationdomain.Service
	ledgerSvc      ledgerdomain.Service
	attributionSvc attributiondomain.Service
	byokSvc        byokdomain.Service
	calculator     *pricing.Calculator
	limiter        *ratelimit.DeductLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	PoolSvc        pooldomain.Service
	AllocationSvc  allocationdomain.Service
	LedgerSvc      ledgerdomain.Service
	AttributionSvc attributiondomain.Service
	ByokSvc        byokdomain.Service
	Calculator     *pricing.Calculator
	Limiter        *ratelimit.DeductLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		poolSvc:        p.PoolSvc,
		allocationSvc:  p.AllocationSvc,
		ledgerSvc:      p.LedgerSvc,
		attributionSvc: p.AttributionSvc,
		byokSvc:        p.ByokSvc,
		calculator:     p.Calculator,
		limiter:        p.Limiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(OrgContext())

	// -------- Pools --------
	v1.POST("/pools", s.CreatePool)
	v1.GET("/pools", s.GetPool)
	v1.POST("/pools/credits", s.AddPoolCredits)

	// -------- Allocations --------
	v1.POST("/allocations", s.AllocateCredits)
	v1.GET("/allocations/:user_id", s.GetAllocation)
	v1.DELETE("/allocations/:user_id", s.DeactivateAllocation)

	// -------- Ledger --------
	v1.POST("/ledger/deduct", s.DeductRateLimit(), s.Deduct)
	v1.POST("/ledger/refund", s.Refund)
	v1.POST("/ledger/transfer", s.Transfer)
	v1.GET("/balance/:user_id", s.GetBalance)

	// -------- Usage --------
	v1.GET("/usage", s.ListUsage)

	// -------- Billing routes --------
	v1.POST("/route/resolve", s.ResolveRoute)
	v1.PUT("/byok/credentials", s.UpsertCredential)
	v1.POST("/byok/credentials/:provider/enable", s.EnableCredential)
	v1.POST("/byok/credentials/:provider/disable", s.DisableCredential)
}
