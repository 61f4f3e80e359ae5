// Package domain contains per-user credit allocation models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
)

// UserAllocation is one user's slice of an organization's credit pool.
// Exactly one active row exists per (org, user); deactivated and expired
// rows are retained for history.
type UserAllocation struct {
	ID               snowflake.ID       `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID       `json:"organization_id" gorm:"column:org_id;not null;index:idx_user_allocations_org_user,priority:1"`
	UserID           snowflake.ID       `json:"user_id" gorm:"not null;index:idx_user_allocations_org_user,priority:2"`
	AllocatedCredits credit.Milicredits `json:"allocated_credits" gorm:"not null;default:0"`
	UsedCredits      credit.Milicredits `json:"used_credits" gorm:"not null;default:0"`
	IsActive         bool               `json:"is_active" gorm:"not null;default:true"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserAllocation) TableName() string { return "user_allocations" }

// Remaining is the spendable budget left on the allocation.
func (a *UserAllocation) Remaining() credit.Milicredits {
	return a.AllocatedCredits - a.UsedCredits
}
