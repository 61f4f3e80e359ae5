package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opsbase/tally/internal/credit"
	ledgerdomain "github.com/opsbase/tally/internal/ledger/domain"
	"github.com/opsbase/tally/internal/orgcontext"
	"github.com/opsbase/tally/internal/pricing"
)

type deductRequest struct {
	UserID    string                      `json:"user_id"`
	Amount    credit.Milicredits          `json:"amount"`
	Usage     *deductUsage                `json:"usage,omitempty"`
	Service   string                      `json:"service_name"`
	RequestID string                      `json:"request_id"`
	Metadata  ledgerdomain.DeductMetadata `json:"metadata,omitempty"`
}

type deductUsage struct {
	Model     string `json:"model"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
	Power     string `json:"power"`
}

func (s *Server) Deduct(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// BYOK-routed usage rides the caller's own key and is never billable
	// here. Refusing it beats silently double-charging.
	if flagged, ok := req.Metadata.Extra["byok"].(bool); ok && flagged {
		AbortWithError(c, newValidationError("metadata", "byok_not_billable", "byok-routed usage is not billable"))
		return
	}

	ctx := c.Request.Context()
	amount := req.Amount
	if amount == 0 && req.Usage != nil {
		cost, err := s.calculator.Cost(pricing.CostRequest{
			Model:     req.Usage.Model,
			TokensIn:  req.Usage.TokensIn,
			TokensOut: req.Usage.TokensOut,
			Power:     pricing.PowerLevel(req.Usage.Power),
			Tier:      pricing.Tier(orgcontext.TierFromContext(ctx)),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		amount = cost

		if req.Metadata.Model == "" {
			req.Metadata.Model = req.Usage.Model
		}
		if req.Metadata.TokensIn == 0 {
			req.Metadata.TokensIn = req.Usage.TokensIn
		}
		if req.Metadata.TokensOut == 0 {
			req.Metadata.TokensOut = req.Usage.TokensOut
		}
		if req.Metadata.PowerLevel == "" {
			req.Metadata.PowerLevel = req.Usage.Power
		}
	}

	resp, err := s.ledgerSvc.Deduct(ctx, ledgerdomain.DeductRequest{
		UserID:      req.UserID,
		ServiceName: req.Service,
		Amount:      amount,
		RequestID:   req.RequestID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) Refund(c *gin.Context) {
	var req ledgerdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.Refund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) Transfer(c *gin.Context) {
	var req ledgerdomain.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.Transfer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBalance(c *gin.Context) {
	resp, err := s.ledgerSvc.GetBalance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
