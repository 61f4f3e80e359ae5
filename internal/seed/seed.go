// Package seed bootstraps demo data for local development.
package seed

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	"github.com/opsbase/tally/internal/config"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	"github.com/opsbase/tally/internal/credit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoOrgID  = snowflake.ID(1)
	demoUserID = snowflake.ID(2)

	demoPoolCredits       = credit.Milicredits(1_000_000)
	demoAllocationCredits = credit.Milicredits(100_000)
)

// EnsureDemoData seeds one organization pool with a funded allocation so a
// fresh local instance answers deductions immediately. Existing rows win.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureDemoPoolTx(ctx, tx, node); err != nil {
			return err
		}
		return ensureDemoAllocationTx(ctx, tx, node)
	})
}

func ensureDemoPoolTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var pool pooldomain.CreditPool
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM credit_pools WHERE org_id = ?`, demoOrgID,
	).Scan(&pool).Error
	if err != nil {
		return err
	}
	if pool.ID != 0 {
		return nil
	}

	now := time.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO credit_pools (id, org_id, total_credits, allocated_credits, used_credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		node.Generate(), demoOrgID, demoPoolCredits, demoAllocationCredits, now, now,
	).Error
}

func ensureDemoAllocationTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var alloc allocationdomain.UserAllocation
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM user_allocations WHERE org_id = ? AND user_id = ? AND is_active`,
		demoOrgID, demoUserID,
	).Scan(&alloc).Error
	if err != nil {
		return err
	}
	if alloc.ID != 0 {
		return nil
	}

	now := time.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO user_allocations (id, org_id, user_id, allocated_credits, used_credits, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		node.Generate(), demoOrgID, demoUserID, demoAllocationCredits, true, now, now,
	).Error
}

// Module seeds demo data outside production when SEED_DEMO is set.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, log *zap.Logger) error {
		if cfg.Environment == "production" || os.Getenv("SEED_DEMO") == "" {
			return nil
		}
		if err := EnsureDemoData(db); err != nil {
			return err
		}
		log.Info("demo data seeded")
		return nil
	}),
)
