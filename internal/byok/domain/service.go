package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Resolve picks the billing route for one model call. Precedence: an
	// enabled universal key, then an enabled key for the model's provider,
	// then the platform.
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error)

	// UpsertCredential seals and stores a provider key for the user.
	UpsertCredential(ctx context.Context, req UpsertCredentialRequest) (*CredentialResponse, error)

	// SetEnabled enables or disables an existing credential.
	SetEnabled(ctx context.Context, userID, provider string, enabled bool) (*CredentialResponse, error)
}

type ResolveRequest struct {
	UserID string `json:"user_id"`
	Model  string `json:"model"`
}

type ResolveResponse struct {
	Route         RouteType `json:"route"`
	Provider      string    `json:"provider,omitempty"`
	CredentialRef string    `json:"credential_ref,omitempty"`
}

type UpsertCredentialRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Value    string `json:"value"`
}

type CredentialResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidModel        = errors.New("invalid_model")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidValue        = errors.New("invalid_credential_value")
	ErrCredentialNotFound  = errors.New("credential_not_found")
	ErrSealKeyMissing      = errors.New("seal_key_missing")
)
