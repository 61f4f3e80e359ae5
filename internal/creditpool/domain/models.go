// Package domain contains the organization credit pool model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
)

// CreditPool is the organization-level reservoir of purchased credits.
// Usage never mutates the pool directly; it mutates the user allocation.
// used_credits accumulates consumption settled back into the pool when an
// allocation is retired, so that allocated_credits always equals the sum of
// active allocation budgets.
type CreditPool struct {
	ID               snowflake.ID       `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID       `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_credit_pools_org"`
	TotalCredits     credit.Milicredits `json:"total_credits" gorm:"not null;default:0"`
	AllocatedCredits credit.Milicredits `json:"allocated_credits" gorm:"not null;default:0"`
	UsedCredits      credit.Milicredits `json:"used_credits" gorm:"not null;default:0"`
	CreatedAt        time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditPool) TableName() string { return "credit_pools" }

// Available is the unallocated remainder of the pool.
func (p *CreditPool) Available() credit.Milicredits {
	return p.TotalCredits - p.AllocatedCredits
}
