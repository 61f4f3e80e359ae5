package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	"github.com/opsbase/tally/internal/clock"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	"github.com/opsbase/tally/internal/observability/metrics"
	"github.com/opsbase/tally/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     allocationdomain.Repository
	PoolRepo pooldomain.Repository
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     allocationdomain.Repository
	poolRepo pooldomain.Repository
	metrics  *metrics.Metrics
}

func New(p Params) allocationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("allocation.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		poolRepo: p.PoolRepo,
		metrics:  p.Metrics,
	}
}

func (s *Service) Allocate(ctx context.Context, req allocationdomain.AllocateRequest) (*allocationdomain.AllocationResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, allocationdomain.ErrInvalidOrganization
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, allocationdomain.ErrInvalidAmount
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.clock.Now()) {
		return nil, allocationdomain.ErrInvalidExpiry
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reserved, err := s.poolRepo.ReserveAllocated(ctx, tx, orgID, req.Amount)
		if err != nil {
			return err
		}
		if !reserved {
			pool, err := s.poolRepo.FindByOrg(ctx, tx, orgID)
			if err != nil {
				return err
			}
			if pool == nil {
				return pooldomain.ErrPoolNotFound
			}
			return allocationdomain.ErrInsufficientPoolCredits
		}

		// Existing active allocation means this call is a top-up.
		toppedUp, err := s.repo.TopUp(ctx, tx, orgID, userID, req.Amount)
		if err != nil {
			return err
		}
		if toppedUp {
			return nil
		}

		now := s.clock.Now()
		return s.repo.Insert(ctx, tx, &allocationdomain.UserAllocation{
			ID:               s.genID.Generate(),
			OrgID:            orgID,
			UserID:           userID,
			AllocatedCredits: req.Amount,
			IsActive:         true,
			ExpiresAt:        req.ExpiresAt,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	alloc, err := s.repo.FindActive(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, allocationdomain.ErrAllocationNotFound
	}

	s.metrics.RecordAllocation(ctx)
	s.log.Info("credits allocated",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", int64(req.Amount)),
	)

	return toResponse(alloc), nil
}

func (s *Service) Deactivate(ctx context.Context, rawUserID string) (*allocationdomain.AllocationResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, allocationdomain.ErrInvalidOrganization
	}
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	var closed *allocationdomain.UserAllocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alloc, err := s.repo.FindActive(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if alloc == nil {
			return allocationdomain.ErrAllocationNotFound
		}

		claimed, err := s.repo.Deactivate(ctx, tx, alloc.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return allocationdomain.ErrAllocationNotFound
		}

		return s.settleIntoPool(ctx, tx, alloc.ID, orgID, &closed)
	})
	if err != nil {
		return nil, err
	}

	return toResponse(closed), nil
}

func (s *Service) GetAllocation(ctx context.Context, rawUserID string) (*allocationdomain.AllocationResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, allocationdomain.ErrInvalidOrganization
	}
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	alloc, err := s.repo.FindActive(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, allocationdomain.ErrAllocationNotFound
	}

	return toResponse(alloc), nil
}

func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.repo.ListExpired(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		alloc := expired[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			claimed, err := s.repo.Deactivate(ctx, tx, alloc.ID)
			if err != nil {
				return err
			}
			if !claimed {
				return nil
			}
			var closed *allocationdomain.UserAllocation
			if err := s.settleIntoPool(ctx, tx, alloc.ID, alloc.OrgID, &closed); err != nil {
				return err
			}
			swept++
			return nil
		})
		if err != nil {
			return swept, err
		}
	}

	if swept > 0 {
		s.metrics.RecordSweep(ctx, swept)
		s.log.Info("expired allocations swept", zap.Int("count", swept))
	}
	return swept, nil
}

// settleIntoPool re-reads the now-claimed row and settles its budget back
// into the pool: the unused remainder becomes available again and the
// consumed share is folded into the pool's used counter. The claim's row
// lock keeps allocated/used stable until commit.
func (s *Service) settleIntoPool(ctx context.Context, tx *gorm.DB, id snowflake.ID, orgID snowflake.ID, out **allocationdomain.UserAllocation) error {
	var row allocationdomain.UserAllocation
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, allocated_credits, used_credits, is_active, expires_at, created_at, updated_at
		 FROM user_allocations WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return allocationdomain.ErrAllocationNotFound
	}

	if row.AllocatedCredits > 0 || row.UsedCredits > 0 {
		settled, err := s.poolRepo.Settle(ctx, tx, orgID, row.AllocatedCredits, row.UsedCredits)
		if err != nil {
			return err
		}
		if !settled {
			return pooldomain.ErrPoolNotFound
		}
	}

	if out != nil {
		*out = &row
	}
	return nil
}

func parseUserID(value string) (snowflake.ID, error) {
	userID, err := snowflake.ParseString(value)
	if err != nil || userID == 0 {
		return 0, allocationdomain.ErrInvalidUser
	}
	return userID, nil
}

func toResponse(a *allocationdomain.UserAllocation) *allocationdomain.AllocationResponse {
	return &allocationdomain.AllocationResponse{
		ID:               a.ID.String(),
		OrganizationID:   a.OrgID.String(),
		UserID:           a.UserID.String(),
		AllocatedCredits: a.AllocatedCredits,
		UsedCredits:      a.UsedCredits,
		RemainingCredits: a.Remaining(),
		IsActive:         a.IsActive,
		ExpiresAt:        a.ExpiresAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
