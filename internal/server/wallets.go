package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
)

type openWalletRequest struct {
	PatientID snowflake.ID `json:"patient_id"`
}

func (s *Server) OpenWallet(c *gin.Context) {
	var req openWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.walletSvc.Open(c.Request.Context(), req.PatientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetWallet(c *gin.Context) {
	patientID, ok := pathID(c, "patientID")
	if !ok {
		return
	}

	result, err := s.walletSvc.Get(c.Request.Context(), patientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type walletMutateRequest struct {
	Amount    int64         `json:"amount"`
	PaymentID *snowflake.ID `json:"payment_id"`
	Details   string        `json:"details"`
}

func (s *Server) CreditWallet(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.Credit)
}

func (s *Server) DebitWallet(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.Debit)
}

func (s *Server) ChargeWallet(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.Charge)
}

func (s *Server) SettleWalletOutstanding(c *gin.Context) {
	s.mutateWallet(c, s.walletSvc.SettleOutstanding)
}

// abortWallet mirrors abortPayment for wallet rejections.
func (s *Server) abortWallet(c *gin.Context, err error, patientID snowflake.ID) {
	if current, stateErr := s.walletSvc.Get(c.Request.Context(), patientID); stateErr == nil {
		AbortWithErrorState(c, err, current)
		return
	}
	AbortWithError(c, err)
}

func (s *Server) mutateWallet(c *gin.Context, op func(ctx context.Context, req walletdomain.MutateRequest) (walletdomain.WalletAccount, error)) {
	patientID, ok := pathID(c, "patientID")
	if !ok {
		return
	}

	var req walletMutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := op(c.Request.Context(), walletdomain.MutateRequest{
		PatientID: patientID,
		Amount:    req.Amount,
		PaymentID: req.PaymentID,
		Actor:     actorFrom(c),
		Details:   req.Details,
	})
	if err != nil {
		s.abortWallet(c, err, patientID)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ReconcileWallet(c *gin.Context) {
	patientID, ok := pathID(c, "patientID")
	if !ok {
		return
	}

	replay, err := s.walletSvc.Reconcile(c.Request.Context(), patientID)
	if err != nil {
		s.abortWallet(c, err, patientID)
		return
	}

	c.JSON(http.StatusOK, replay)
}

func (s *Server) ListWalletLedger(c *gin.Context) {
	patientID, ok := pathID(c, "patientID")
	if !ok {
		return
	}

	entries, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		AccountKind: ledgerdomain.AccountKindWallet,
		AccountID:   patientID,
		Limit:       queryLimit(c, 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
