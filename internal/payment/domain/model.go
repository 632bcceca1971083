package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether the state machine permits moving from s
// to target. refunded, failed and cancelled are terminal.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusCreated:
		return target == StatusPending || target == StatusFailed || target == StatusCancelled
	case StatusPending:
		return target == StatusCompleted || target == StatusFailed || target == StatusCancelled
	case StatusCompleted:
		return target == StatusRefunded
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRefunded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Method is how money changes hands.
type Method string

const (
	MethodCash         Method = "cash"
	MethodTransfer     Method = "transfer"
	MethodHMO          Method = "hmo"
	MethodOrganisation Method = "organisation"
	MethodWallet       Method = "wallet"
)

func ValidMethod(m Method) bool {
	switch m {
	case MethodCash, MethodTransfer, MethodHMO, MethodOrganisation, MethodWallet:
		return true
	}
	return false
}

// TouchesAccount reports whether confirming this method moves money on a
// wallet or organisation account. Cash and transfer settle outside any
// tracked account, so they produce no ledger entry.
func (m Method) TouchesAccount() bool {
	switch m {
	case MethodWallet, MethodHMO, MethodOrganisation:
		return true
	}
	return false
}

// HistoryEntry is one line of the operator-facing audit trail embedded
// in the payment row. The list is append-only and never rewritten.
type HistoryEntry struct {
	Action  string         `json:"action"`
	Actor   string         `json:"actor"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// Payment represents money changing hands against a billable obligation.
// A payment either has a parent (it is a leg of a split) or has children
// (it is the split container), never both.
type Payment struct {
	ID                   snowflake.ID   `json:"id" gorm:"primaryKey"`
	ParentID             *snowflake.ID  `json:"parent_id"`
	TransactionReference string         `json:"transaction_reference" gorm:"type:text;not null;uniqueIndex"`
	Reference            *string        `json:"reference" gorm:"type:text"`
	ObligationID         snowflake.ID   `json:"obligation_id" gorm:"not null;index"`
	PatientID            *snowflake.ID  `json:"patient_id"`
	CustomerName         *string        `json:"customer_name" gorm:"type:text"`
	OrganisationID       *snowflake.ID  `json:"organisation_id"`
	AmountPayable        int64          `json:"amount_payable" gorm:"not null"`
	Amount               int64          `json:"amount" gorm:"not null"`
	RefundAmount         *int64         `json:"refund_amount"`
	PaymentMethod        *Method        `json:"payment_method" gorm:"type:text"`
	Status               Status         `json:"status" gorm:"type:text;not null"`
	IsConfirmed          bool           `json:"is_confirmed" gorm:"not null"`
	IsUsed               bool           `json:"is_used" gorm:"not null"`
	History              datatypes.JSON `json:"history" gorm:"type:jsonb"`
	AddedBy              string         `json:"added_by" gorm:"type:text;not null"`
	ConfirmedBy          *string        `json:"confirmed_by" gorm:"type:text"`
	LastUpdatedBy        *string        `json:"last_updated_by" gorm:"type:text"`
	Version              int64          `json:"-" gorm:"not null"`
	CreatedAt            time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time      `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// AppendHistory adds one entry to the embedded trail.
func (p *Payment) AppendHistory(entry HistoryEntry) error {
	entries, err := p.HistoryEntries()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	p.History = datatypes.JSON(raw)
	return nil
}

func (p *Payment) HistoryEntries() ([]HistoryEntry, error) {
	if len(p.History) == 0 {
		return nil, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(p.History, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Allocation is one method leg of a split request.
type Allocation struct {
	Method Method `json:"method"`
	Amount int64  `json:"amount"`
}
