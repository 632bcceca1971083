package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/clinicore/clinicore/internal/payment/domain"
)

// abortPayment rejects the request and, when the payment still exists,
// echoes its stored row so the caller sees the state the rejection was
// judged against.
func (s *Server) abortPayment(c *gin.Context, err error, id snowflake.ID) {
	if current, stateErr := s.paymentSvc.Get(c.Request.Context(), id); stateErr == nil {
		AbortWithErrorState(c, err, current)
		return
	}
	AbortWithError(c, err)
}

type openPaymentRequest struct {
	ObligationID   snowflake.ID  `json:"obligation_id"`
	PatientID      *snowflake.ID `json:"patient_id"`
	CustomerName   string        `json:"customer_name"`
	OrganisationID *snowflake.ID `json:"organisation_id"`
}

func (s *Server) OpenPayment(c *gin.Context) {
	var req openPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.Open(c.Request.Context(), paymentdomain.OpenRequest{
		ObligationID:   req.ObligationID,
		PatientID:      req.PatientID,
		CustomerName:   req.CustomerName,
		OrganisationID: req.OrganisationID,
		AddedBy:        actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetPaymentByReference(c *gin.Context) {
	result, err := s.paymentSvc.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type chooseMethodRequest struct {
	Method paymentdomain.Method `json:"method"`
	Amount int64                `json:"amount"`
}

func (s *Server) ChoosePaymentMethod(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req chooseMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.ChooseMethod(c.Request.Context(), paymentdomain.ChooseMethodRequest{
		PaymentID: id,
		Method:    req.Method,
		Amount:    req.Amount,
		Actor:     actorFrom(c),
	})
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

type splitPaymentRequest struct {
	Allocations []paymentdomain.Allocation `json:"allocations"`
}

func (s *Server) SplitPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req splitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	legs, err := s.paymentSvc.Split(c.Request.Context(), paymentdomain.SplitRequest{
		PaymentID:   id,
		Allocations: req.Allocations,
		Actor:       actorFrom(c),
	})
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"legs": legs})
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.paymentSvc.Confirm(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) UnconfirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.paymentSvc.Unconfirm(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

type refundPaymentRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		PaymentID: id,
		Amount:    req.Amount,
		Actor:     actorFrom(c),
	})
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) CancelPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.paymentSvc.Cancel(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) FailPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.paymentSvc.Fail(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

type updateAmountPayableRequest struct {
	AmountPayable int64 `json:"amount_payable"`
}

func (s *Server) UpdatePaymentAmountPayable(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateAmountPayableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.UpdateAmountPayable(c.Request.Context(), id, req.AmountPayable, actorFrom(c))
	if err != nil {
		s.abortPayment(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}
