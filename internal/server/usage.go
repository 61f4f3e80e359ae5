package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
)

func (s *Server) ListUsage(c *gin.Context) {
	var req attributiondomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.attributionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
