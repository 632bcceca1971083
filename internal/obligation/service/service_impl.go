package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
	"github.com/clinicore/clinicore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) obligationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("obligation.service"),
		cfg:      p.Cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req obligationdomain.CreateRequest) (obligationdomain.Obligation, error) {
	if !obligationdomain.ValidType(req.ObligationType) {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidType
	}
	if req.ObligationRef == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidRef
	}
	if req.AmountPayable < 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	obligation := obligationdomain.Obligation{
		ID:             s.genID.Generate(),
		ObligationType: req.ObligationType,
		ObligationRef:  req.ObligationRef,
		AmountPayable:  req.AmountPayable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO obligations (id, obligation_type, obligation_ref, amount_payable, is_settled, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, FALSE, 0, ?, ?)`,
		obligation.ID,
		obligation.ObligationType,
		obligation.ObligationRef,
		obligation.AmountPayable,
		now,
		now,
	).Error; err != nil {
		return obligationdomain.Obligation{}, err
	}

	targetID := obligation.ID.String()
	_ = s.auditSvc.AuditLog(ctx, req.Actor, "obligation.create", "obligation", &targetID, map[string]any{
		"obligation_type": string(req.ObligationType),
		"amount_payable":  req.AmountPayable,
	})

	return obligation, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (obligationdomain.Obligation, error) {
	return s.load(ctx, s.db, id)
}

func (s *Service) ReviseAmount(ctx context.Context, id snowflake.ID, newAmount int64, actor string) (obligationdomain.Obligation, error) {
	var revised obligationdomain.Obligation
	err := db.WithRetry(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			revised, err = s.ReviseAmountTx(ctx, tx, id, newAmount)
			return err
		})
	})
	if err != nil {
		return obligationdomain.Obligation{}, err
	}

	targetID := id.String()
	_ = s.auditSvc.AuditLog(ctx, actor, "obligation.revise_amount", "obligation", &targetID, map[string]any{
		"amount_payable": newAmount,
	})

	return revised, nil
}

// ReviseAmountTx runs the revision guard and the versioned update on the
// caller's transaction. Writes no audit row; callers own that after
// commit.
func (s *Service) ReviseAmountTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, newAmount int64) (obligationdomain.Obligation, error) {
	if newAmount < 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidAmount
	}

	obligation, err := s.load(ctx, tx, id)
	if err != nil {
		return obligationdomain.Obligation{}, err
	}

	var completed int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE obligation_id = ? AND status = 'completed'`,
		id,
	).Scan(&completed).Error; err != nil {
		return obligationdomain.Obligation{}, err
	}
	if completed > 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationSettled
	}

	now := s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET amount_payable = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		newAmount,
		now,
		id,
		obligation.Version,
	)
	if result.Error != nil {
		return obligationdomain.Obligation{}, result.Error
	}
	if result.RowsAffected == 0 {
		return obligationdomain.Obligation{}, db.ErrConcurrentModification
	}

	obligation.AmountPayable = newAmount
	obligation.Version++
	obligation.UpdatedAt = now
	return obligation, nil
}

// LockTx takes the obligation row's version forward before the caller
// grows the completed-payment set. A revision that read the old version
// fails its WHERE clause and retries against the new state.
func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (obligationdomain.Obligation, error) {
	if id == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrNotFound
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE obligations SET version = version + 1, updated_at = ? WHERE id = ?`,
		s.clock.Now(),
		id,
	)
	if result.Error != nil {
		return obligationdomain.Obligation{}, result.Error
	}
	if result.RowsAffected == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrNotFound
	}
	return s.load(ctx, tx, id)
}

// SettledAmount counts only completed payments; refunded and reversed
// legs have already left the completed state.
func (s *Service) SettledAmount(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE obligation_id = ? AND status = 'completed'`,
		id,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) SetSettledTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, settled bool) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET is_settled = ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		settled,
		s.clock.Now(),
		id,
	).Error
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (obligationdomain.Obligation, error) {
	if id == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrNotFound
	}
	var obligation obligationdomain.Obligation
	err := tx.WithContext(ctx).Raw(
		`SELECT id, obligation_type, obligation_ref, amount_payable, is_settled, version, created_at, updated_at
		 FROM obligations
		 WHERE id = ?`,
		id,
	).Scan(&obligation).Error
	if err != nil {
		return obligationdomain.Obligation{}, err
	}
	if obligation.ID == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrNotFound
	}
	return obligation, nil
}
