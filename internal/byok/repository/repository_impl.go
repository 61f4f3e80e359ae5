package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/byok/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, cred *domain.BYOKCredential) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO byok_credentials (id, org_id, user_id, provider, encrypted_value, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, user_id, provider) DO UPDATE SET
		   encrypted_value = excluded.encrypted_value,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`,
		cred.ID, cred.OrgID, cred.UserID, cred.Provider,
		cred.EncryptedValue, cred.Enabled, cred.CreatedAt, cred.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, provider string) (*domain.BYOKCredential, error) {
	var cred domain.BYOKCredential
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, provider, encrypted_value, enabled, created_at, updated_at
		 FROM byok_credentials WHERE org_id = ? AND user_id = ? AND provider = ?`,
		orgID, userID, provider,
	).Scan(&cred).Error
	if err != nil {
		return nil, err
	}
	if cred.ID == 0 {
		return nil, nil
	}
	return &cred, nil
}

func (r *repo) ListEnabled(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]domain.BYOKCredential, error) {
	var creds []domain.BYOKCredential
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, provider, encrypted_value, enabled, created_at, updated_at
		 FROM byok_credentials WHERE org_id = ? AND user_id = ? AND enabled`,
		orgID, userID,
	).Scan(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *repo) SetEnabled(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, provider string, enabled bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE byok_credentials SET enabled = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND user_id = ? AND provider = ?`,
		enabled, orgID, userID, provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
