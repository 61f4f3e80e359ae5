package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pooldomain "github.com/opsbase/tally/internal/creditpool/domain"
)

func (s *Server) CreatePool(c *gin.Context) {
	var req pooldomain.CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pool, err := s.poolSvc.CreatePool(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pool)
}

func (s *Server) GetPool(c *gin.Context) {
	pool, err := s.poolSvc.GetPool(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

func (s *Server) AddPoolCredits(c *gin.Context) {
	var req pooldomain.AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pool, err := s.poolSvc.AddCredits(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}
