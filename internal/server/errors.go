package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
	byokdomain "github.com/opsbase/tally/internal/byok/domain"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	ledgerdomain "github.com/opsbase/tally/internal/ledger/domain"
	"github.com/opsbase/tally/internal/pricing"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrOrgRequired        = errors.New("organization_required")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isInsufficientCreditsError(err):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits: upgrade your plan or top up",
		}
	case isOrgIdentityError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "organization_required",
			Message: "organization identity required",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, pooldomain.ErrPoolExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pooldomain.ErrInvalidAmount),
		errors.Is(err, allocationdomain.ErrInvalidUser),
		errors.Is(err, allocationdomain.ErrInvalidAmount),
		errors.Is(err, allocationdomain.ErrInvalidExpiry),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidService),
		errors.Is(err, ledgerdomain.ErrInvalidRequestID),
		errors.Is(err, ledgerdomain.ErrRefundExceedsUsage),
		errors.Is(err, ledgerdomain.ErrSameUser),
		errors.Is(err, attributiondomain.ErrInvalidUser),
		errors.Is(err, attributiondomain.ErrInvalidPageToken),
		errors.Is(err, byokdomain.ErrInvalidUser),
		errors.Is(err, byokdomain.ErrInvalidModel),
		errors.Is(err, byokdomain.ErrInvalidProvider),
		errors.Is(err, byokdomain.ErrInvalidValue),
		errors.Is(err, pricing.ErrInvalidTokens),
		errors.Is(err, pricing.ErrUnknownPower),
		errors.Is(err, pricing.ErrUnknownTier):
		return true
	default:
		return false
	}
}

func isOrgIdentityError(err error) bool {
	switch {
	case errors.Is(err, ErrOrgRequired),
		errors.Is(err, pooldomain.ErrInvalidOrganization),
		errors.Is(err, allocationdomain.ErrInvalidOrganization),
		errors.Is(err, attributiondomain.ErrInvalidOrganization),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, byokdomain.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isInsufficientCreditsError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInsufficientCredits) ||
		errors.Is(err, allocationdomain.ErrInsufficientPoolCredits)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, pooldomain.ErrPoolNotFound),
		errors.Is(err, allocationdomain.ErrAllocationNotFound),
		errors.Is(err, ledgerdomain.ErrAllocationNotFound),
		errors.Is(err, byokdomain.ErrCredentialNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
