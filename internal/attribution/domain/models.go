// Package domain contains the immutable attribution trail models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/credit"
	"gorm.io/datatypes"
)

// AttributionRecord is one credit movement and its cause. Rows are append
// only: never updated, never deleted. request_id is unique per org and backs
// deduction idempotency.
type AttributionRecord struct {
	ID          snowflake.ID       `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID       `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_attribution_records_org_request,priority:1"`
	UserID      snowflake.ID       `json:"user_id" gorm:"not null;index"`
	ServiceName string             `json:"service_name" gorm:"type:text;not null"`
	CreditsUsed credit.Milicredits `json:"credits_used" gorm:"not null"` // signed: debit > 0, credit < 0
	RequestID   string             `json:"request_id" gorm:"type:text;not null;uniqueIndex:ux_attribution_records_org_request,priority:2"`
	Metadata    datatypes.JSONMap  `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AttributionRecord) TableName() string { return "attribution_records" }

// Metadata is the closed set of known attribution fields plus an opaque
// extension map for forward compatibility.
type Metadata struct {
	Provider        string         `json:"provider,omitempty"`
	Model           string         `json:"model,omitempty"`
	TokensIn        int64          `json:"tokens_in,omitempty"`
	TokensOut       int64          `json:"tokens_out,omitempty"`
	PowerLevel      string         `json:"power_level,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	CounterpartUser string         `json:"counterpart_user,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// ToJSONMap flattens the metadata into the persisted representation.
func (m Metadata) ToJSONMap() datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if m.Provider != "" {
		out["provider"] = m.Provider
	}
	if m.Model != "" {
		out["model"] = m.Model
	}
	if m.TokensIn != 0 {
		out["tokens_in"] = m.TokensIn
	}
	if m.TokensOut != 0 {
		out["tokens_out"] = m.TokensOut
	}
	if m.PowerLevel != "" {
		out["power_level"] = m.PowerLevel
	}
	if m.Reason != "" {
		out["reason"] = m.Reason
	}
	if m.CounterpartUser != "" {
		out["counterpart_user"] = m.CounterpartUser
	}
	for k, v := range m.Extra {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
