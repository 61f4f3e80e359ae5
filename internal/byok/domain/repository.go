package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the credential or replaces the sealed value of the
	// existing (org, user, provider) row, re-enabling it.
	Upsert(ctx context.Context, db *gorm.DB, cred *BYOKCredential) error

	Find(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, provider string) (*BYOKCredential, error)

	// ListEnabled returns the user's enabled credentials.
	ListEnabled(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]BYOKCredential, error)

	// SetEnabled flips the enabled flag. False when no such credential.
	SetEnabled(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, provider string, enabled bool) (bool, error)
}
