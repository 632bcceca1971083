package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ObligationType tags the workflow a billable obligation belongs to.
type ObligationType string

const (
	TypeService          ObligationType = "service"
	TypeAdmission        ObligationType = "admission"
	TypePrescription     ObligationType = "prescription"
	TypeLabRequest       ObligationType = "lab_request"
	TypeRadiologyRequest ObligationType = "radiology_request"
	TypeAnteNatal        ObligationType = "ante_natal"
	TypeProductSale      ObligationType = "product_sale"
)

func ValidType(t ObligationType) bool {
	switch t {
	case TypeService, TypeAdmission, TypePrescription, TypeLabRequest,
		TypeRadiologyRequest, TypeAnteNatal, TypeProductSale:
		return true
	}
	return false
}

// Obligation is the polymorphic "thing being paid for": a lab request,
// an admission, a prescription and so on, reduced to an amount payable.
type Obligation struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	ObligationType ObligationType `json:"obligation_type" gorm:"type:text;not null"`
	ObligationRef  snowflake.ID   `json:"obligation_ref" gorm:"column:obligation_ref;not null"`
	AmountPayable  int64          `json:"amount_payable" gorm:"not null"`
	IsSettled      bool           `json:"is_settled" gorm:"not null"`
	Version        int64          `json:"-" gorm:"not null"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`
}

func (Obligation) TableName() string { return "obligations" }

type CreateRequest struct {
	ObligationType ObligationType
	ObligationRef  snowflake.ID
	AmountPayable  int64
	Actor          string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Obligation, error)
	Get(ctx context.Context, id snowflake.ID) (Obligation, error)

	// ReviseAmount changes the amount payable. It is only legal while no
	// payment against the obligation has completed.
	ReviseAmount(ctx context.Context, id snowflake.ID, newAmount int64, actor string) (Obligation, error)

	// ReviseAmountTx is ReviseAmount inside the caller's transaction, so a
	// payment's amount payable and its obligation move together or not at
	// all.
	ReviseAmountTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, newAmount int64) (Obligation, error)

	// LockTx bumps the obligation's version inside the caller's
	// transaction and returns the row as committed. A concurrent
	// ReviseAmount then loses its optimistic check instead of committing
	// against a completed-payment count that the caller is about to grow.
	LockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Obligation, error)

	// SettledAmount sums completed, non-refunded payments against the
	// obligation.
	SettledAmount(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error)

	// SetSettledTx flips the cached settlement flag inside the caller's
	// transaction. The engine fires settlement hooks after commit.
	SetSettledTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, settled bool) error
}

var (
	ErrNotFound          = errors.New("obligation_not_found")
	ErrInvalidType       = errors.New("invalid_obligation_type")
	ErrInvalidRef        = errors.New("invalid_obligation_ref")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrObligationSettled = errors.New("obligation_already_settled")
)
