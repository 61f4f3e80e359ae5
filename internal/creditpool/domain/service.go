package domain

import (
	"context"
	"errors"
	"time"

	"github.com/opsbase/tally/internal/credit"
)

type Service interface {
	CreatePool(ctx context.Context, req CreatePoolRequest) (*PoolResponse, error)
	AddCredits(ctx context.Context, req AddCreditsRequest) (*PoolResponse, error)
	GetPool(ctx context.Context) (*PoolResponse, error)
}

type CreatePoolRequest struct {
	InitialCredits credit.Milicredits `json:"initial_credits"`
}

type AddCreditsRequest struct {
	Amount credit.Milicredits `json:"amount"`
}

type PoolResponse struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	TotalCredits     credit.Milicredits `json:"total_credits"`
	AllocatedCredits credit.Milicredits `json:"allocated_credits"`
	UsedCredits      credit.Milicredits `json:"used_credits"`
	AvailableCredits credit.Milicredits `json:"available_credits"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrPoolExists          = errors.New("pool_already_exists")
	ErrPoolNotFound        = errors.New("pool_not_found")
)
