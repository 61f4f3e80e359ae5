package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
	"github.com/opsbase/tally/internal/clock"
	"github.com/opsbase/tally/internal/credit"
	ledgerdomain "github.com/opsbase/tally/internal/ledger/domain"
	"github.com/opsbase/tally/internal/observability/metrics"
	"github.com/opsbase/tally/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errRequestReplayed aborts a deduction transaction when a concurrent call
// with the same request_id won the attribution insert. The loser rolls back
// its debit and returns the winner's outcome.
var errRequestReplayed = errors.New("request_replayed")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     allocationdomain.Repository
	AttrRepo attributiondomain.Repository
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     allocationdomain.Repository
	attrRepo attributiondomain.Repository
	metrics  *metrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		attrRepo: p.AttrRepo,
		metrics:  p.Metrics,
	}
}

func (s *Service) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (*ledgerdomain.DeductResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	serviceName := strings.TrimSpace(req.ServiceName)
	if serviceName == "" {
		return nil, ledgerdomain.ErrInvalidService
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return nil, ledgerdomain.ErrInvalidRequestID
	}

	// Replay fast path: a recorded request_id means the debit already
	// happened. Return the stored outcome without touching the allocation.
	existing, err := s.attrRepo.FindByRequestID(ctx, s.db, orgID, requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayResponse(ctx, orgID, userID, existing)
	}

	recordID := s.genID.Generate()
	var remaining credit.Milicredits
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		consumed, err := s.repo.Consume(ctx, tx, orgID, userID, req.Amount, s.clock.Now())
		if err != nil {
			return err
		}
		if !consumed {
			return s.classifyConsumeFailure(ctx, tx, orgID, userID)
		}

		alloc, err := s.repo.FindActive(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if alloc == nil {
			return ledgerdomain.ErrAllocationNotFound
		}
		remaining = alloc.Remaining()

		meta := attributiondomain.Metadata{
			Provider:   req.Metadata.Provider,
			Model:      req.Metadata.Model,
			TokensIn:   req.Metadata.TokensIn,
			TokensOut:  req.Metadata.TokensOut,
			PowerLevel: req.Metadata.PowerLevel,
			Extra:      req.Metadata.Extra,
		}
		inserted, err := s.attrRepo.Insert(ctx, tx, &attributiondomain.AttributionRecord{
			ID:          recordID,
			OrgID:       orgID,
			UserID:      userID,
			ServiceName: serviceName,
			CreditsUsed: req.Amount,
			RequestID:   requestID,
			Metadata:    meta.ToJSONMap(),
			CreatedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errRequestReplayed
		}
		return nil
	})
	if errors.Is(err, errRequestReplayed) {
		existing, ferr := s.attrRepo.FindByRequestID(ctx, s.db, orgID, requestID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, err
		}
		return s.replayResponse(ctx, orgID, userID, existing)
	}
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			s.metrics.RecordDeductRejected(ctx, serviceName)
		}
		return nil, err
	}

	s.metrics.RecordDeduct(ctx, serviceName)
	s.log.Info("credits deducted",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.String("service", serviceName),
		zap.Int64("amount", int64(req.Amount)),
		zap.Int64("remaining", int64(remaining)),
	)

	return &ledgerdomain.DeductResponse{
		AttributionID:    recordID.String(),
		RemainingCredits: remaining,
		Applied:          true,
	}, nil
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.RefundResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	serviceName := strings.TrimSpace(req.ServiceName)
	if serviceName == "" {
		serviceName = "refund"
	}

	recordID := s.genID.Generate()
	var remaining credit.Milicredits
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		restored, err := s.repo.Restore(ctx, tx, orgID, userID, req.Amount)
		if err != nil {
			return err
		}
		if !restored {
			alloc, err := s.repo.FindActive(ctx, tx, orgID, userID)
			if err != nil {
				return err
			}
			if alloc == nil {
				return ledgerdomain.ErrAllocationNotFound
			}
			return ledgerdomain.ErrRefundExceedsUsage
		}

		alloc, err := s.repo.FindActive(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if alloc == nil {
			return ledgerdomain.ErrAllocationNotFound
		}
		remaining = alloc.Remaining()

		meta := attributiondomain.Metadata{Reason: req.Reason}
		inserted, err := s.attrRepo.Insert(ctx, tx, &attributiondomain.AttributionRecord{
			ID:          recordID,
			OrgID:       orgID,
			UserID:      userID,
			ServiceName: serviceName,
			CreditsUsed: -req.Amount,
			RequestID:   "refund-" + uuid.NewString(),
			Metadata:    meta.ToJSONMap(),
			CreatedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errRequestReplayed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRefund(ctx, serviceName)
	s.log.Info("credits refunded",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", int64(req.Amount)),
	)

	return &ledgerdomain.RefundResponse{
		AttributionID:    recordID.String(),
		RemainingCredits: remaining,
	}, nil
}

func (s *Service) Transfer(ctx context.Context, req ledgerdomain.TransferRequest) (*ledgerdomain.TransferResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	fromID, err := parseUserID(req.FromUserID)
	if err != nil {
		return nil, err
	}
	toID, err := parseUserID(req.ToUserID)
	if err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, ledgerdomain.ErrSameUser
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	transferID := uuid.NewString()
	debitID := s.genID.Generate()
	creditID := s.genID.Generate()
	var fromRemaining, toRemaining credit.Milicredits
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransferOut(ctx, tx, orgID, fromID, req.Amount)
		if err != nil {
			return err
		}
		if !moved {
			alloc, err := s.repo.FindActive(ctx, tx, orgID, fromID)
			if err != nil {
				return err
			}
			if alloc == nil {
				return ledgerdomain.ErrAllocationNotFound
			}
			return ledgerdomain.ErrInsufficientCredits
		}

		received, err := s.repo.TransferIn(ctx, tx, orgID, toID, req.Amount)
		if err != nil {
			return err
		}
		if !received {
			return ledgerdomain.ErrAllocationNotFound
		}

		fromAlloc, err := s.repo.FindActive(ctx, tx, orgID, fromID)
		if err != nil {
			return err
		}
		toAlloc, err := s.repo.FindActive(ctx, tx, orgID, toID)
		if err != nil {
			return err
		}
		if fromAlloc == nil || toAlloc == nil {
			return ledgerdomain.ErrAllocationNotFound
		}
		fromRemaining = fromAlloc.Remaining()
		toRemaining = toAlloc.Remaining()

		legs := []attributiondomain.AttributionRecord{
			{
				ID:          debitID,
				OrgID:       orgID,
				UserID:      fromID,
				ServiceName: "transfer",
				CreditsUsed: req.Amount,
				RequestID:   "transfer-" + transferID + ":debit",
				Metadata: attributiondomain.Metadata{
					Reason:          req.Reason,
					CounterpartUser: toID.String(),
					Extra:           map[string]any{"transfer_id": transferID},
				}.ToJSONMap(),
				CreatedAt: s.clock.Now(),
			},
			{
				ID:          creditID,
				OrgID:       orgID,
				UserID:      toID,
				ServiceName: "transfer",
				CreditsUsed: -req.Amount,
				RequestID:   "transfer-" + transferID + ":credit",
				Metadata: attributiondomain.Metadata{
					Reason:          req.Reason,
					CounterpartUser: fromID.String(),
					Extra:           map[string]any{"transfer_id": transferID},
				}.ToJSONMap(),
				CreatedAt: s.clock.Now(),
			},
		}
		for i := range legs {
			inserted, err := s.attrRepo.Insert(ctx, tx, &legs[i])
			if err != nil {
				return err
			}
			if !inserted {
				return errRequestReplayed
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransfer(ctx)
	s.log.Info("credits transferred",
		zap.String("org_id", orgID.String()),
		zap.String("from_user_id", fromID.String()),
		zap.String("to_user_id", toID.String()),
		zap.Int64("amount", int64(req.Amount)),
	)

	return &ledgerdomain.TransferResponse{
		TransferID:       transferID,
		FromRemaining:    fromRemaining,
		ToRemaining:      toRemaining,
		DebitRecordID:    debitID.String(),
		CreditRecordID:   creditID.String(),
		TransferredValue: req.Amount,
	}, nil
}

func (s *Service) GetBalance(ctx context.Context, rawUserID string) (*ledgerdomain.BalanceResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidOrganization
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
		return nil, ledgerdomain.ErrAllocationNotFound
	}

	return &ledgerdomain.BalanceResponse{
		UserID:           userID.String(),
		AllocatedCredits: alloc.AllocatedCredits,
		UsedCredits:      alloc.UsedCredits,
		RemainingCredits: alloc.Remaining(),
		IsActive:         alloc.IsActive,
	}, nil
}

// classifyConsumeFailure decides why the conditional debit matched no row.
// The read happens only after the update failed, so it never gates the debit.
func (s *Service) classifyConsumeFailure(ctx context.Context, tx *gorm.DB, orgID, userID snowflake.ID) error {
	alloc, err := s.repo.FindActive(ctx, tx, orgID, userID)
	if err != nil {
		return err
	}
	if alloc == nil {
		return ledgerdomain.ErrAllocationNotFound
	}
	if alloc.ExpiresAt != nil && !alloc.ExpiresAt.After(s.clock.Now()) {
		return ledgerdomain.ErrAllocationNotFound
	}
	return ledgerdomain.ErrInsufficientCredits
}

func (s *Service) replayResponse(ctx context.Context, orgID, userID snowflake.ID, rec *attributiondomain.AttributionRecord) (*ledgerdomain.DeductResponse, error) {
	var remaining credit.Milicredits
	alloc, err := s.repo.FindActive(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if alloc != nil {
		remaining = alloc.Remaining()
	}

	s.log.Debug("deduction replayed",
		zap.String("org_id", orgID.String()),
		zap.String("request_id", rec.RequestID),
	)

	return &ledgerdomain.DeductResponse{
		AttributionID:    rec.ID.String(),
		RemainingCredits: remaining,
		Applied:          false,
	}, nil
}

func parseUserID(value string) (snowflake.ID, error) {
	userID, err := snowflake.ParseString(value)
	if err != nil || userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	return userID, nil
}
