package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
	byokdomain "github.com/opsbase/tally/internal/byok/domain"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
	ledgerdomain "github.com/opsbase/tally/internal/ledger/domain"
	"github.com/opsbase/tally/internal/pricing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"invalid amount", ledgerdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{"refund exceeds usage", ledgerdomain.ErrRefundExceedsUsage, http.StatusBadRequest, "validation_error"},
		{"same user transfer", ledgerdomain.ErrSameUser, http.StatusBadRequest, "validation_error"},
		{"unknown power", pricing.ErrUnknownPower, http.StatusBadRequest, "validation_error"},
		{"insufficient credits", ledgerdomain.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"insufficient pool", allocationdomain.ErrInsufficientPoolCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"org required", ErrOrgRequired, http.StatusUnauthorized, "organization_required"},
		{"org from domain", ledgerdomain.ErrInvalidOrganization, http.StatusUnauthorized, "organization_required"},
		{"pool exists", pooldomain.ErrPoolExists, http.StatusConflict, "conflict"},
		{"pool not found", pooldomain.ErrPoolNotFound, http.StatusNotFound, "not_found"},
		{"allocation not found", ledgerdomain.ErrAllocationNotFound, http.StatusNotFound, "not_found"},
		{"credential not found", byokdomain.ErrCredentialNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, payload.Type)
		})
	}
}

func TestMapErrorValidationPayload(t *testing.T) {
	status, payload := mapError(newValidationError("metadata", "byok_not_billable", "byok-routed usage is not billable"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, payload.Errors, 1)
	assert.Equal(t, "metadata", payload.Errors[0].Field)
	assert.Equal(t, "byok_not_billable", payload.Errors[0].Code)

	status, payload = mapError(ledgerdomain.ErrInvalidRequestID)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "request_id", payload.Errors[0].Field)
	assert.Equal(t, "invalid_request_id", payload.Errors[0].Code)
}
