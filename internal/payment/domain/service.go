package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type OpenRequest struct {
	ObligationID   snowflake.ID
	PatientID      *snowflake.ID
	CustomerName   string
	OrganisationID *snowflake.ID
	AddedBy        string
}

type ChooseMethodRequest struct {
	PaymentID snowflake.ID
	Method    Method
	Amount    int64
	Actor     string
}

type SplitRequest struct {
	PaymentID   snowflake.ID
	Allocations []Allocation
	Actor       string
}

type RefundRequest struct {
	PaymentID snowflake.ID
	Amount    int64
	Actor     string
}

// Service is the reconciliation engine: it owns the payment state
// machine and guarantees that every completed or reversed transition
// moves money on at most one account, together with exactly one ledger
// entry, in one atomic unit.
type Service interface {
	Open(ctx context.Context, req OpenRequest) (Payment, error)
	Get(ctx context.Context, id snowflake.ID) (Payment, error)
	GetByReference(ctx context.Context, reference string) (Payment, error)

	ChooseMethod(ctx context.Context, req ChooseMethodRequest) (Payment, error)
	Split(ctx context.Context, req SplitRequest) ([]Payment, error)

	Confirm(ctx context.Context, id snowflake.ID, actor string) (Payment, error)
	Unconfirm(ctx context.Context, id snowflake.ID, actor string) (Payment, error)
	Refund(ctx context.Context, req RefundRequest) (Payment, error)
	Cancel(ctx context.Context, id snowflake.ID, actor string) (Payment, error)
	Fail(ctx context.Context, id snowflake.ID, actor string) (Payment, error)

	UpdateAmountPayable(ctx context.Context, id snowflake.ID, newAmount int64, actor string) (Payment, error)
}

var (
	ErrNotFound                     = errors.New("payment_not_found")
	ErrInvalidObligation            = errors.New("invalid_obligation")
	ErrMissingPayer                 = errors.New("missing_payer")
	ErrMissingOrganisation          = errors.New("missing_organisation")
	ErrInvalidAmount                = errors.New("invalid_amount")
	ErrInvalidMethod                = errors.New("invalid_method")
	ErrInvalidReference             = errors.New("invalid_reference")
	ErrAmountExceedsPayable         = errors.New("amount_exceeds_payable")
	ErrAmountMismatch               = errors.New("amount_mismatch")
	ErrDuplicateMethodInSplit       = errors.New("duplicate_method_in_split")
	ErrEmptySplit                   = errors.New("empty_split")
	ErrPaymentIsLeg                 = errors.New("payment_is_leg")
	ErrAlreadySplit                 = errors.New("payment_already_split")
	ErrStateConflict                = errors.New("state_conflict")
	ErrRefundExceedsAmount          = errors.New("refund_exceeds_amount")
	ErrInsufficientWalletBalance    = errors.New("insufficient_wallet_balance")
	ErrReferenceGenerationExhausted = errors.New("reference_generation_exhausted")
)
