package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	"gorm.io/gorm"
)

// WalletAccount is the per-patient balance pair. deposit_balance is
// prepaid money and never goes below zero. outstanding_balance follows
// the hospital-wide sign convention: positive means the patient owes the
// hospital, negative means the hospital owes the patient.
//
// Balances are a materialized projection of the ledger; they are only
// mutated together with a ledger entry in one transaction.
type WalletAccount struct {
	PatientID          snowflake.ID `json:"patient_id" gorm:"primaryKey;column:patient_id"`
	DepositBalance     int64        `json:"deposit_balance" gorm:"not null"`
	OutstandingBalance int64        `json:"outstanding_balance" gorm:"not null"`
	IsFrozen           bool         `json:"is_frozen" gorm:"not null"`
	Version            int64        `json:"-" gorm:"not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

// ApplyRequest moves one wallet balance by Delta with a ledger entry,
// inside the caller's transaction.
type ApplyRequest struct {
	PatientID   snowflake.ID
	BalanceKind ledgerdomain.BalanceKind
	Delta       int64
	Reason      ledgerdomain.EntryReason
	PaymentID   *snowflake.ID
	Details     string
}

type MutateRequest struct {
	PatientID snowflake.ID
	Amount    int64
	Reason    ledgerdomain.EntryReason
	PaymentID *snowflake.ID
	Actor     string
	Details   string
}

type Service interface {
	Open(ctx context.Context, patientID snowflake.ID) (WalletAccount, error)
	Get(ctx context.Context, patientID snowflake.ID) (WalletAccount, error)

	Credit(ctx context.Context, req MutateRequest) (WalletAccount, error)
	Debit(ctx context.Context, req MutateRequest) (WalletAccount, error)
	Charge(ctx context.Context, req MutateRequest) (WalletAccount, error)
	SettleOutstanding(ctx context.Context, req MutateRequest) (WalletAccount, error)

	// ApplyTx is the single write path for wallet balances, used by the
	// reconciliation engine to keep a payment transition and its balance
	// movement in one atomic unit.
	ApplyTx(ctx context.Context, tx *gorm.DB, req ApplyRequest) error

	// Reconcile replays the ledger and compares it with the cached
	// balances. A mismatch freezes the account and surfaces for audit.
	Reconcile(ctx context.Context, patientID snowflake.ID) (ledgerdomain.Replay, error)
}

var (
	ErrNotFound          = errors.New("wallet_not_found")
	ErrInvalidPatient    = errors.New("invalid_patient")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrAccountFrozen     = errors.New("account_frozen")
	ErrLedgerMismatch    = errors.New("ledger_mismatch")
)
