package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	"gorm.io/gorm"
)

type OrgType string

const (
	OrgTypeHMO          OrgType = "hmo"
	OrgTypeOrganisation OrgType = "organisation"
)

// OrganisationAccount is the running receivable for an HMO or corporate
// payer. A positive outstanding_balance means the payer owes the
// hospital; an overpayment drives it negative (payer credit).
type OrganisationAccount struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	Name               string       `json:"name" gorm:"type:text;not null"`
	OrgType            OrgType      `json:"org_type" gorm:"type:text;not null"`
	OutstandingBalance int64        `json:"outstanding_balance" gorm:"not null"`
	IsFrozen           bool         `json:"is_frozen" gorm:"not null"`
	Version            int64        `json:"-" gorm:"not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (OrganisationAccount) TableName() string { return "organisation_accounts" }

// OrganisationPayment is one periodic settlement record, append-only.
type OrganisationPayment struct {
	ID                      snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganisationID          snowflake.ID `json:"organisation_id" gorm:"not null;index"`
	TotalDue                int64        `json:"total_due" gorm:"not null"`
	AmountPaid              int64        `json:"amount_paid" gorm:"not null"`
	OutstandingBalanceAfter int64        `json:"outstanding_balance_after" gorm:"not null"`
	PaymentMethod           string       `json:"payment_method" gorm:"type:text;not null"`
	PaymentDate             time.Time    `json:"payment_date" gorm:"not null"`
	AddedBy                 string       `json:"added_by" gorm:"type:text;not null"`
	CreatedAt               time.Time    `json:"created_at" gorm:"not null"`
}

func (OrganisationPayment) TableName() string { return "organisation_payments" }

type CreateRequest struct {
	Name    string
	OrgType OrgType
	Actor   string
}

type ChargeRequest struct {
	OrganisationID snowflake.ID
	Amount         int64
	PaymentID      *snowflake.ID
	Actor          string
	Details        string
}

type SettleRequest struct {
	OrganisationID   snowflake.ID
	AmountPaid       int64
	PaymentMethod    string
	PaymentDate      time.Time
	AllowOverpayment bool
	Actor            string
}

// ApplyRequest moves the outstanding balance by Delta with a ledger
// entry, inside the caller's transaction.
type ApplyRequest struct {
	OrganisationID snowflake.ID
	Delta          int64
	Reason         ledgerdomain.EntryReason
	PaymentID      *snowflake.ID
	Details        string
	// AllowOverpayment permits the balance to cross below zero.
	AllowOverpayment bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (OrganisationAccount, error)
	Get(ctx context.Context, id snowflake.ID) (OrganisationAccount, error)

	Charge(ctx context.Context, req ChargeRequest) (OrganisationAccount, error)
	Settle(ctx context.Context, req SettleRequest) (OrganisationAccount, error)
	ListSettlements(ctx context.Context, id snowflake.ID, limit int) ([]OrganisationPayment, error)

	// ApplyTx is the single write path for the outstanding balance, used
	// by the reconciliation engine inside the payment transaction.
	ApplyTx(ctx context.Context, tx *gorm.DB, req ApplyRequest) error

	Reconcile(ctx context.Context, id snowflake.ID) (ledgerdomain.Replay, error)
}

var (
	ErrNotFound        = errors.New("organisation_not_found")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidOrgType  = errors.New("invalid_org_type")
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrOversettlement  = errors.New("oversettlement")
	ErrAccountFrozen   = errors.New("account_frozen")
	ErrLedgerMismatch  = errors.New("ledger_mismatch")
	ErrInvalidSettleAt = errors.New("invalid_payment_date")
)
