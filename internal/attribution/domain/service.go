package domain

import (
	"context"
	"errors"
	"time"

	"github.com/opsbase/tally/internal/credit"
	"github.com/opsbase/tally/pkg/db/pagination"
)

type Service interface {
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

type ListRequest struct {
	UserID    string     `form:"user_id"`
	Since     *time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until     *time.Time `form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
	PageToken string     `form:"page_token"`
	PageSize  int        `form:"page_size,default=50"`
}

type ListResponse struct {
	pagination.PageInfo
	Records []RecordResponse `json:"records"`
}

type RecordResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	ServiceName string             `json:"service_name"`
	CreditsUsed credit.Milicredits `json:"credits_used"`
	RequestID   string             `json:"request_id"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
