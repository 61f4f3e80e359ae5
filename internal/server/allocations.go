package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/opsbase/tally/internal/allocation/domain"
)

func (s *Server) AllocateCredits(c *gin.Context) {
	var req allocationdomain.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alloc, err := s.allocationSvc.Allocate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, alloc)
}

func (s *Server) GetAllocation(c *gin.Context) {
	alloc, err := s.allocationSvc.GetAllocation(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, alloc)
}

func (s *Server) DeactivateAllocation(c *gin.Context) {
	alloc, err := s.allocationSvc.Deactivate(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, alloc)
}
