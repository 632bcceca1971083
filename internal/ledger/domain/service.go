package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListEntriesRequest struct {
	AccountKind AccountKind
	AccountID   snowflake.ID
	Limit       int
}

// Service is the append-only ledger entry store. Append must run inside
// the same transaction that updates the account's cached balance so the
// two can never be observed apart.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) error
	Replay(ctx context.Context, kind AccountKind, accountID snowflake.ID) (Replay, error)
	List(ctx context.Context, req ListEntriesRequest) ([]LedgerEntry, error)
}

var (
	ErrInvalidAccountKind = errors.New("invalid_account_kind")
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidBalanceKind = errors.New("invalid_balance_kind")
	ErrInvalidReason      = errors.New("invalid_reason")
	ErrZeroDelta          = errors.New("zero_delta")
	ErrUnbalancedEntry    = errors.New("unbalanced_entry")
	ErrBrokenChain        = errors.New("broken_ledger_chain")
)

// Validate checks an entry before it is written. balance_after must equal
// balance_before + delta; a broken link here would poison every replay.
func Validate(entry *LedgerEntry) error {
	if entry == nil {
		return ErrInvalidAccount
	}
	switch entry.AccountKind {
	case AccountKindWallet, AccountKindOrganisation:
	default:
		return ErrInvalidAccountKind
	}
	if entry.AccountID == 0 {
		return ErrInvalidAccount
	}
	switch entry.BalanceKind {
	case BalanceKindDeposit, BalanceKindOutstanding:
	default:
		return ErrInvalidBalanceKind
	}
	if entry.AccountKind == AccountKindOrganisation && entry.BalanceKind != BalanceKindOutstanding {
		return ErrInvalidBalanceKind
	}
	switch entry.Reason {
	case ReasonCharge, ReasonPayment, ReasonRefund, ReasonAdjustment:
	default:
		return ErrInvalidReason
	}
	if entry.Delta == 0 {
		return ErrZeroDelta
	}
	if entry.BalanceAfter != entry.BalanceBefore+entry.Delta {
		return ErrUnbalancedEntry
	}
	return nil
}
