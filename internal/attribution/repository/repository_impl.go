package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() attributiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *attributiondomain.AttributionRecord) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO attribution_records (id, org_id, user_id, service_name, credits_used, request_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, request_id) DO NOTHING`,
		rec.ID,
		rec.OrgID,
		rec.UserID,
		rec.ServiceName,
		rec.CreditsUsed,
		rec.RequestID,
		rec.Metadata,
		rec.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByRequestID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, requestID string) (*attributiondomain.AttributionRecord, error) {
	var rec attributiondomain.AttributionRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, service_name, credits_used, request_id, metadata, created_at
		 FROM attribution_records WHERE org_id = ? AND request_id = ?`,
		orgID,
		requestID,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q attributiondomain.ListQuery) ([]attributiondomain.AttributionRecord, error) {
	var (
		conds []string
		args  []any
	)

	conds = append(conds, "org_id = ?")
	args = append(args, q.OrgID)

	if q.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Since != 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, time.Unix(q.Since, 0).UTC())
	}
	if q.Until != 0 {
		conds = append(conds, "created_at < ?")
		args = append(args, time.Unix(q.Until, 0).UTC())
	}
	if q.BeforeID != 0 {
		conds = append(conds, "id < ?")
		args = append(args, q.BeforeID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	var records []attributiondomain.AttributionRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, service_name, credits_used, request_id, metadata, created_at
		 FROM attribution_records
		 WHERE `+strings.Join(conds, " AND ")+`
		 ORDER BY id DESC
		 LIMIT ?`,
		args...,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) SumDebits(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credits_used), 0)
		 FROM attribution_records WHERE org_id = ? AND user_id = ?`,
		orgID,
		userID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
