package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
	"gorm.io/gorm"
)

// Repository methods accept the db handle so callers can compose them inside
// a wider transaction (allocation moves touch the pool and the allocation row
// in one commit).
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pool *CreditPool) error
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*CreditPool, error)

	// AddTotal increases total_credits. Returns false when no pool exists.
	AddTotal(ctx context.Context, db *gorm.DB, orgID snowflake.ID, amount credit.Milicredits) (bool, error)

	// ReserveAllocated increases allocated_credits only while
	// total - allocated >= amount holds, in a single conditional update.
	// Returns false when the pool is missing or the reserve would overrun.
	ReserveAllocated(ctx context.Context, db *gorm.DB, orgID snowflake.ID, amount credit.Milicredits) (bool, error)

	// Settle retires an allocation's budget: the full allocated amount
	// leaves allocated_credits, while the consumed share moves out of
	// total_credits into used_credits. The unused remainder thereby becomes
	// available again.
	Settle(ctx context.Context, db *gorm.DB, orgID snowflake.ID, allocated, used credit.Milicredits) (bool, error)
}
