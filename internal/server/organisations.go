package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
)

type createOrganisationRequest struct {
	Name    string            `json:"name"`
	OrgType orgdomain.OrgType `json:"org_type"`
}

func (s *Server) CreateOrganisation(c *gin.Context) {
	var req createOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.orgSvc.Create(c.Request.Context(), orgdomain.CreateRequest{
		Name:    req.Name,
		OrgType: req.OrgType,
		Actor:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetOrganisationBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.orgSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// abortOrganisation mirrors abortPayment for organisation rejections.
func (s *Server) abortOrganisation(c *gin.Context, err error, id snowflake.ID) {
	if current, stateErr := s.orgSvc.Get(c.Request.Context(), id); stateErr == nil {
		AbortWithErrorState(c, err, current)
		return
	}
	AbortWithError(c, err)
}

type chargeOrganisationRequest struct {
	Amount    int64         `json:"amount"`
	PaymentID *snowflake.ID `json:"payment_id"`
	Details   string        `json:"details"`
}

func (s *Server) ChargeOrganisation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req chargeOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.orgSvc.Charge(c.Request.Context(), orgdomain.ChargeRequest{
		OrganisationID: id,
		Amount:         req.Amount,
		PaymentID:      req.PaymentID,
		Actor:          actorFrom(c),
		Details:        req.Details,
	})
	if err != nil {
		s.abortOrganisation(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

type settleOrganisationRequest struct {
	AmountPaid       int64      `json:"amount_paid"`
	PaymentMethod    string     `json:"payment_method"`
	PaymentDate      *time.Time `json:"payment_date"`
	AllowOverpayment bool       `json:"allow_overpayment"`
}

func (s *Server) SettleOrganisation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req settleOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	paymentDate := time.Now().UTC()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	result, err := s.orgSvc.Settle(c.Request.Context(), orgdomain.SettleRequest{
		OrganisationID:   id,
		AmountPaid:       req.AmountPaid,
		PaymentMethod:    req.PaymentMethod,
		PaymentDate:      paymentDate,
		AllowOverpayment: req.AllowOverpayment,
		Actor:            actorFrom(c),
	})
	if err != nil {
		s.abortOrganisation(c, err, id)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListOrganisationSettlements(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	settlements, err := s.orgSvc.ListSettlements(c.Request.Context(), id, queryLimit(c, 100))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settlements": settlements})
}

func (s *Server) ReconcileOrganisation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	replay, err := s.orgSvc.Reconcile(c.Request.Context(), id)
	if err != nil {
		s.abortOrganisation(c, err, id)
		return
	}

	c.JSON(http.StatusOK, replay)
}

func (s *Server) ListOrganisationLedger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		AccountKind: ledgerdomain.AccountKindOrganisation,
		AccountID:   id,
		Limit:       queryLimit(c, 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
