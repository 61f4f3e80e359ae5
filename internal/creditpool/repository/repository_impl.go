package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pooldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pool *pooldomain.CreditPool) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_pools (id, org_id, total_credits, allocated_credits, used_credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pool.ID,
		pool.OrgID,
		pool.TotalCredits,
		pool.AllocatedCredits,
		pool.UsedCredits,
		pool.CreatedAt,
		pool.UpdatedAt,
	).Error
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*pooldomain.CreditPool, error) {
	var pool pooldomain.CreditPool
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, total_credits, allocated_credits, used_credits, created_at, updated_at
		 FROM credit_pools WHERE org_id = ?`,
		orgID,
	).Scan(&pool).Error
	if err != nil {
		return nil, err
	}
	if pool.ID == 0 {
		return nil, nil
	}
	return &pool, nil
}

func (r *repo) AddTotal(ctx context.Context, db *gorm.DB, orgID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_pools
		 SET total_credits = total_credits + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ?`,
		amount,
		orgID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ReserveAllocated(ctx context.Context, db *gorm.DB, orgID snowflake.ID, amount credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_pools
		 SET allocated_credits = allocated_credits + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND total_credits - allocated_credits >= ?`,
		amount,
		orgID,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Settle(ctx context.Context, db *gorm.DB, orgID snowflake.ID, allocated, used credit.Milicredits) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_pools
		 SET allocated_credits = allocated_credits - ?,
		     total_credits = total_credits - ?,
		     used_credits = used_credits + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND allocated_credits >= ? AND total_credits >= ?`,
		allocated,
		used,
		used,
		orgID,
		allocated,
		used,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
