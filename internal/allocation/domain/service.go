package domain

import (
	"context"
	"errors"
	"time"

	"github.com/opsbase/tally/internal/credit"
)

type Service interface {
	Allocate(ctx context.Context, req AllocateRequest) (*AllocationResponse, error)
	Deactivate(ctx context.Context, userID string) (*AllocationResponse, error)
	GetAllocation(ctx context.Context, userID string) (*AllocationResponse, error)

	// SweepExpired deactivates allocations past their expiry, returning the
	// unused remainder to the pool. Returns how many rows were swept.
	SweepExpired(ctx context.Context) (int, error)
}

type AllocateRequest struct {
	UserID    string             `json:"user_id"`
	Amount    credit.Milicredits `json:"amount"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

type AllocationResponse struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	UserID           string             `json:"user_id"`
	AllocatedCredits credit.Milicredits `json:"allocated_credits"`
	UsedCredits      credit.Milicredits `json:"used_credits"`
	RemainingCredits credit.Milicredits `json:"remaining_credits"`
	IsActive         bool               `json:"is_active"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

var (
	ErrInvalidOrganization     = errors.New("invalid_organization")
	ErrInvalidUser             = errors.New("invalid_user")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidExpiry           = errors.New("invalid_expiry")
	ErrAllocationNotFound      = errors.New("allocation_not_found")
	ErrInsufficientPoolCredits = errors.New("insufficient_pool_credits")
)
