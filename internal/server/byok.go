package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	byokdomain "github.com/opsbase/tally/internal/byok/domain"
	"github.com/opsbase/tally/internal/orgcontext"
)

func (s *Server) ResolveRoute(c *gin.Context) {
	var req byokdomain.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.UserID == "" {
		if userID, ok := orgcontext.UserIDFromContext(c.Request.Context()); ok {
			req.UserID = userID.String()
		}
	}

	resp, err := s.byokSvc.Resolve(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpsertCredential(c *gin.Context) {
	var req byokdomain.UpsertCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.byokSvc.UpsertCredential(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) EnableCredential(c *gin.Context) {
	s.setCredentialEnabled(c, true)
}

func (s *Server) DisableCredential(c *gin.Context) {
	s.setCredentialEnabled(c, false)
}

func (s *Server) setCredentialEnabled(c *gin.Context, enabled bool) {
	// The body is optional: the user can come from the identity headers.
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.UserID == "" {
		if userID, ok := orgcontext.UserIDFromContext(c.Request.Context()); ok {
			req.UserID = userID.String()
		}
	}

	resp, err := s.byokSvc.SetEnabled(c.Request.Context(), req.UserID, strings.TrimSpace(c.Param("provider")), enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
