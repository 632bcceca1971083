package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AccountKind identifies which balance-carrying entity an entry belongs to.
type AccountKind string

const (
	AccountKindWallet       AccountKind = "wallet"
	AccountKindOrganisation AccountKind = "organisation"
)

// BalanceKind identifies which balance of the account a delta applied to.
// Wallet accounts carry a deposit and an outstanding balance; organisation
// accounts only carry an outstanding balance.
type BalanceKind string

const (
	BalanceKindDeposit     BalanceKind = "deposit"
	BalanceKindOutstanding BalanceKind = "outstanding"
)

// EntryReason classifies the balance-affecting event.
type EntryReason string

const (
	// ReasonCharge records a service rendered and billed to the account.
	ReasonCharge EntryReason = "charge"
	// ReasonPayment records money settling an obligation.
	ReasonPayment EntryReason = "payment"
	// ReasonRefund records money returned after a completed payment.
	ReasonRefund EntryReason = "refund"
	// ReasonAdjustment records a compensating reversal (unconfirm).
	ReasonAdjustment EntryReason = "adjustment"
)

// LedgerEntry is the immutable record of a single balance mutation.
// Entries are insert-only; a reversal is a new compensating entry.
type LedgerEntry struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	AccountKind   AccountKind   `json:"account_kind" gorm:"type:text;not null;index"`
	AccountID     snowflake.ID  `json:"account_id" gorm:"not null;index"`
	BalanceKind   BalanceKind   `json:"balance_kind" gorm:"type:text;not null"`
	PaymentID     *snowflake.ID `json:"payment_id"`
	Delta         int64         `json:"delta" gorm:"not null"`
	BalanceBefore int64         `json:"balance_before" gorm:"not null"`
	BalanceAfter  int64         `json:"balance_after" gorm:"not null"`
	Reason        EntryReason   `json:"reason" gorm:"type:text;not null"`
	Details       string        `json:"details" gorm:"type:text"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Replay is the recomputed state of an account derived purely from its
// ledger history.
type Replay struct {
	DepositTotal     int64
	OutstandingTotal int64
	EntryCount       int
}
