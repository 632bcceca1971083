package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
)

type createObligationRequest struct {
	ObligationType obligationdomain.ObligationType `json:"obligation_type"`
	ObligationRef  snowflake.ID                    `json:"obligation_ref"`
	AmountPayable  int64                           `json:"amount_payable"`
}

func (s *Server) CreateObligation(c *gin.Context) {
	var req createObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.obligationSvc.Create(c.Request.Context(), obligationdomain.CreateRequest{
		ObligationType: req.ObligationType,
		ObligationRef:  req.ObligationRef,
		AmountPayable:  req.AmountPayable,
		Actor:          actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetObligation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.obligationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type reviseObligationRequest struct {
	AmountPayable int64 `json:"amount_payable"`
}

func (s *Server) ReviseObligationAmount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req reviseObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.obligationSvc.ReviseAmount(c.Request.Context(), id, req.AmountPayable, actorFrom(c))
	if err != nil {
		if current, stateErr := s.obligationSvc.Get(c.Request.Context(), id); stateErr == nil {
			AbortWithErrorState(c, err, current)
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
