// Package domain defines billing route resolution and customer-supplied
// provider credentials.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BYOKCredential is a customer-supplied provider key. The raw value is sealed
// before it reaches the database and is never returned by any endpoint.
type BYOKCredential struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_byok_credentials_user_provider,priority:1"`
	UserID         snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_byok_credentials_user_provider,priority:2"`
	Provider       string       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_byok_credentials_user_provider,priority:3"`
	EncryptedValue string       `json:"-" gorm:"type:text;not null"`
	Enabled        bool         `json:"enabled" gorm:"not null;default:true"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BYOKCredential) TableName() string { return "byok_credentials" }

// RouteType says who carries the cost of a model call.
type RouteType string

const (
	// RouteBYOK means the caller's own key is used and the ledger is
	// bypassed entirely: no debit, no allocation change.
	RouteBYOK RouteType = "byok"

	// RoutePlatform means platform keys are used and usage is metered.
	RoutePlatform RouteType = "platform"
)

// ProviderOpenRouter is the universal class: one enabled OpenRouter key
// covers every model regardless of detected provider.
const ProviderOpenRouter = "openrouter"

// DetectProvider maps a model name to its provider by prefix. Unknown models
// return "" and can only be served by a universal key or the platform.
func DetectProvider(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(name, "gpt"), strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"), strings.HasPrefix(name, "o4"),
		strings.HasPrefix(name, "chatgpt"), strings.HasPrefix(name, "davinci"):
		return "openai"
	case strings.HasPrefix(name, "claude"):
		return "anthropic"
	case strings.HasPrefix(name, "gemini"), strings.HasPrefix(name, "gemma"):
		return "google"
	case strings.HasPrefix(name, "mistral"), strings.HasPrefix(name, "mixtral"),
		strings.HasPrefix(name, "codestral"):
		return "mistral"
	case strings.HasPrefix(name, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(name, "llama"):
		return "meta"
	case strings.HasPrefix(name, "grok"):
		return "xai"
	default:
		return ""
	}
}

// KnownProvider reports whether the name is an accepted credential provider.
func KnownProvider(provider string) bool {
	switch provider {
	case "openai", "anthropic", "google", "mistral", "deepseek", "meta", "xai", ProviderOpenRouter:
		return true
	default:
		return false
	}
}
