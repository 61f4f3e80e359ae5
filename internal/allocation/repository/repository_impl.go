package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	"github.com/opsbase/tally/internal/credit"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() allocationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *allocationdomain.UserAllocation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO user_allocations (id, org_id, user_id, allocated_credits, used_credits, is_active, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.OrgID,
		a.UserID,
		a.AllocatedCredits,
		a.UsedCredits,
		a.IsActive,
		a.ExpiresAt,
		a.CreatedAt,
		a.UpdatedAt,
	).Error
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*allocationdomain.UserAllocation, error) {
	var alloc allocationdomain.UserAllocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, allocated_credits, used_credits, is_active, expires_at, created_at, updated_at
		 FROM user_allocations WHERE org_id = ? AND user_id = ? AND is_active`,
		orgID,
		userID,
	).Scan(&alloc).Error
	if err != nil {
		return nil, err
	}
	if alloc.ID == 0 {
		return nil, nil
	}
	return &alloc, nil
}

func (r *repo) TopUp(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET allocated_credits = allocated_credits + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND is_active`,
		amount,
		orgID,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND is_active`,
		false,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Consume(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET used_credits = used_credits + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND is_active
		   AND allocated_credits - used_credits >= ?
		   AND (expires_at IS NULL OR expires_at > ?)`,
		amount,
		orgID,
		userID,
		amount,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Restore(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET used_credits = used_credits - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND is_active AND used_credits >= ?`,
		amount,
		orgID,
		userID,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) TransferOut(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET allocated_credits = allocated_credits - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND is_active
		   AND allocated_credits - used_credits >= ?`,
		amount,
		orgID,
		userID,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) TransferIn(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_allocations
		 SET allocated_credits = allocated_credits + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND is_active`,
		amount,
		orgID,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]allocationdomain.UserAllocation, error) {
	var allocs []allocationdomain.UserAllocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, allocated_credits, used_credits, is_active, expires_at, created_at, updated_at
		 FROM user_allocations
		 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&allocs).Error
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

func (r *repo) SumActiveAllocated(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (credit.Milicredits, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(allocated_credits), 0)
		 FROM user_allocations WHERE org_id = ? AND is_active`,
		orgID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return credit.Milicredits(total), nil
}
