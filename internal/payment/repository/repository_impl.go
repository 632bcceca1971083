package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicore/clinicore/internal/payment/domain"
	"gorm.io/gorm"
)

// Repository is the raw persistence surface for payment rows. All writes
// go through Insert (idempotent on transaction_reference) or
// UpdateVersioned (optimistic); nothing else mutates a payment.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payment, error)
	ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]domain.Payment, error)
	CountChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (int64, error)
	SumSiblingAmounts(ctx context.Context, db *gorm.DB, parentID snowflake.ID, excludeID snowflake.ID) (int64, error)
	UpdateVersioned(ctx context.Context, db *gorm.DB, payment *domain.Payment, expectedVersion int64) (bool, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

const paymentColumns = `id, parent_id, transaction_reference, reference, obligation_id,
	patient_id, customer_name, organisation_id, amount_payable, amount, refund_amount,
	payment_method, status, is_confirmed, is_used, history, added_by, confirmed_by,
	last_updated_by, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (transaction_reference) DO NOTHING`,
		payment.ID,
		payment.ParentID,
		payment.TransactionReference,
		payment.Reference,
		payment.ObligationID,
		payment.PatientID,
		payment.CustomerName,
		payment.OrganisationID,
		payment.AmountPayable,
		payment.Amount,
		payment.RefundAmount,
		payment.PaymentMethod,
		payment.Status,
		payment.IsConfirmed,
		payment.IsUsed,
		payment.History,
		payment.AddedBy,
		payment.ConfirmedBy,
		payment.LastUpdatedBy,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_reference = ? LIMIT 1`,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE parent_id = ? ORDER BY id ASC`,
		parentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE parent_id = ?`,
		parentID,
	).Scan(&count).Error
	return count, err
}

// SumSiblingAmounts totals what the other legs under the same parent
// have already claimed (pending or completed).
func (r *repo) SumSiblingAmounts(ctx context.Context, db *gorm.DB, parentID snowflake.ID, excludeID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM payments
		 WHERE parent_id = ? AND id != ? AND status IN ('pending', 'completed')`,
		parentID,
		excludeID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, payment *domain.Payment, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET
			reference = ?,
			amount_payable = ?,
			amount = ?,
			refund_amount = ?,
			payment_method = ?,
			status = ?,
			is_confirmed = ?,
			is_used = ?,
			history = ?,
			confirmed_by = ?,
			last_updated_by = ?,
			version = version + 1,
			updated_at = ?
		 WHERE id = ? AND version = ?`,
		payment.Reference,
		payment.AmountPayable,
		payment.Amount,
		payment.RefundAmount,
		payment.PaymentMethod,
		payment.Status,
		payment.IsConfirmed,
		payment.IsUsed,
		payment.History,
		payment.ConfirmedBy,
		payment.LastUpdatedBy,
		payment.UpdatedAt,
		payment.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
