package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	"github.com/opsbase/tally/internal/orgcontext"
	"github.com/opsbase/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  pooldomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  pooldomain.Repository
}

func New(p Params) pooldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("creditpool.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreatePool(ctx context.Context, req pooldomain.CreatePoolRequest) (*pooldomain.PoolResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, pooldomain.ErrInvalidOrganization
	}
	if req.InitialCredits < 0 {
		return nil, pooldomain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	pool := &pooldomain.CreditPool{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		TotalCredits: req.InitialCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, s.db, pool); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, pooldomain.ErrPoolExists
		}
		return nil, err
	}

	s.log.Info("credit pool created",
		zap.String("org_id", orgID.String()),
		zap.Int64("total_credits", int64(pool.TotalCredits)),
	)

	return toResponse(pool), nil
}

func (s *Service) AddCredits(ctx context.Context, req pooldomain.AddCreditsRequest) (*pooldomain.PoolResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, pooldomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return nil, pooldomain.ErrInvalidAmount
	}

	updated, err := s.repo.AddTotal(ctx, s.db, orgID, req.Amount)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, pooldomain.ErrPoolNotFound
	}

	pool, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, pooldomain.ErrPoolNotFound
	}

	return toResponse(pool), nil
}

func (s *Service) GetPool(ctx context.Context) (*pooldomain.PoolResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, pooldomain.ErrInvalidOrganization
	}

	pool, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, pooldomain.ErrPoolNotFound
	}

	return toResponse(pool), nil
}

func toResponse(pool *pooldomain.CreditPool) *pooldomain.PoolResponse {
	return &pooldomain.PoolResponse{
		ID:               pool.ID.String(),
		OrganizationID:   pool.OrgID.String(),
		TotalCredits:     pool.TotalCredits,
		AllocatedCredits: pool.AllocatedCredits,
		UsedCredits:      pool.UsedCredits,
		AvailableCredits: pool.Available(),
		CreatedAt:        pool.CreatedAt,
		UpdatedAt:        pool.UpdatedAt,
	}
}
