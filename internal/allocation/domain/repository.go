package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
	"gorm.io/gorm"
)

// Repository methods accept the db handle so the service can run them inside
// one transaction together with the pool reservation. Every mutation is a
// blind conditional update; callers learn the outcome from the returned bool,
// never from a prior read.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alloc *UserAllocation) error
	FindActive(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*UserAllocation, error)

	// TopUp adds budget to the active allocation. False when none is active.
	TopUp(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error)

	// Deactivate claims the active row. False when another writer already did.
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	// Consume increments used_credits while remaining >= amount and the
	// allocation is active and unexpired, in one conditional update.
	Consume(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits, now time.Time) (bool, error)

	// Restore decrements used_credits while used >= amount.
	Restore(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error)

	// TransferOut removes budget while remaining >= amount.
	TransferOut(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error)

	// TransferIn adds budget to the destination's active allocation.
	TransferIn(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error)

	// ListExpired returns active allocations whose expires_at has passed.
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]UserAllocation, error)

	// SumActiveAllocated reports the active allocation total for an org.
	SumActiveAllocated(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (credit.Milicredits, error)
}
