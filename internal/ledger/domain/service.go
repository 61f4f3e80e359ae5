// Package domain defines the ledger engine surface: atomic deductions,
// refunds, transfers and balance reads against user allocations.
package domain

import (
	"context"
	"errors"

	"github.com/opsbase/tally/internal/credit"
)

type Service interface {
	// Deduct debits a user's allocation in a single atomic step and appends
	// the attribution record in the same transaction. Replays of a request_id
	// return the original outcome without a second debit.
	Deduct(ctx context.Context, req DeductRequest) (*DeductResponse, error)

	// Refund returns previously deducted credits to the allocation. It never
	// pushes used_credits below zero.
	Refund(ctx context.Context, req RefundRequest) (*RefundResponse, error)

	// Transfer moves allocated budget between two active allocations in the
	// same organization. Both legs commit or neither does.
	Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error)

	GetBalance(ctx context.Context, userID string) (*BalanceResponse, error)
}

type DeductRequest struct {
	UserID      string             `json:"user_id"`
	ServiceName string             `json:"service_name"`
	Amount      credit.Milicredits `json:"amount"`
	RequestID   string             `json:"request_id"`
	Metadata    DeductMetadata     `json:"metadata,omitempty"`
}

// DeductMetadata carries the request context recorded alongside the debit.
type DeductMetadata struct {
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	TokensIn   int64          `json:"tokens_in,omitempty"`
	TokensOut  int64          `json:"tokens_out,omitempty"`
	PowerLevel string         `json:"power_level,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type DeductResponse struct {
	AttributionID    string             `json:"attribution_id"`
	RemainingCredits credit.Milicredits `json:"remaining_credits"`

	// Applied is false when the request_id was already recorded and the
	// stored outcome is returned instead of a new debit.
	Applied bool `json:"applied"`
}

type RefundRequest struct {
	UserID      string             `json:"user_id"`
	ServiceName string             `json:"service_name"`
	Amount      credit.Milicredits `json:"amount"`
	Reason      string             `json:"reason,omitempty"`
}

type RefundResponse struct {
	AttributionID    string             `json:"attribution_id"`
	RemainingCredits credit.Milicredits `json:"remaining_credits"`
}

type TransferRequest struct {
	FromUserID string             `json:"from_user_id"`
	ToUserID   string             `json:"to_user_id"`
	Amount     credit.Milicredits `json:"amount"`
	Reason     string             `json:"reason,omitempty"`
}

type TransferResponse struct {
	TransferID       string             `json:"transfer_id"`
	FromRemaining    credit.Milicredits `json:"from_remaining_credits"`
	ToRemaining      credit.Milicredits `json:"to_remaining_credits"`
	DebitRecordID    string             `json:"debit_record_id"`
	CreditRecordID   string             `json:"credit_record_id"`
	TransferredValue credit.Milicredits `json:"amount"`
}

type BalanceResponse struct {
	UserID           string             `json:"user_id"`
	AllocatedCredits credit.Milicredits `json:"allocated_credits"`
	UsedCredits      credit.Milicredits `json:"used_credits"`
	RemainingCredits credit.Milicredits `json:"remaining_credits"`
	IsActive         bool               `json:"is_active"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidService      = errors.New("invalid_service")
	ErrInvalidRequestID    = errors.New("invalid_request_id")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrAllocationNotFound  = errors.New("allocation_not_found")
	ErrRefundExceedsUsage  = errors.New("refund_exceeds_usage")
	ErrSameUser            = errors.New("transfer_same_user")
)
