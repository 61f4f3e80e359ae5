package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListQuery filters the attribution trail. Zero values mean "no filter".
type ListQuery struct {
	OrgID    snowflake.ID
	UserID   snowflake.ID
	Since    int64 // unix seconds, inclusive
	Until    int64 // unix seconds, exclusive
	BeforeID snowflake.ID
	Limit    int
}

type Repository interface {
	// Insert appends one record. Returns false without error when a record
	// with the same (org, request_id) already exists.
	Insert(ctx context.Context, db *gorm.DB, rec *AttributionRecord) (bool, error)

	FindByRequestID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, requestID string) (*AttributionRecord, error)

	// List returns records newest first, keyed by descending ID for cursor
	// pagination (snowflake IDs are time ordered).
	List(ctx context.Context, db *gorm.DB, q ListQuery) ([]AttributionRecord, error)

	// SumDebits reports the net debited amount for one user, used by
	// reconciliation checks.
	SumDebits(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (int64, error)
}
