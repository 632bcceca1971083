package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	obsmetrics "github.com/clinicore/clinicore/internal/observability/metrics"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
	"github.com/clinicore/clinicore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) orgdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("organisation.service"),
		cfg:        p.Cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req orgdomain.CreateRequest) (orgdomain.OrganisationAccount, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidName
	}
	switch req.OrgType {
	case orgdomain.OrgTypeHMO, orgdomain.OrgTypeOrganisation:
	default:
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidOrgType
	}

	now := s.clock.Now()
	account := orgdomain.OrganisationAccount{
		ID:        s.genID.Generate(),
		Name:      name,
		OrgType:   req.OrgType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO organisation_accounts (id, name, org_type, outstanding_balance, is_frozen, version, created_at, updated_at)
		 VALUES (?, ?, ?, 0, FALSE, 0, ?, ?)`,
		account.ID,
		account.Name,
		account.OrgType,
		now,
		now,
	).Error; err != nil {
		return orgdomain.OrganisationAccount{}, err
	}

	targetID := account.ID.String()
	_ = s.auditSvc.AuditLog(ctx, req.Actor, "organisation.create", "organisation_account", &targetID, map[string]any{
		"name":     account.Name,
		"org_type": string(account.OrgType),
	})

	return account, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (orgdomain.OrganisationAccount, error) {
	if id == 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidID
	}
	return s.load(ctx, s.db, id)
}

func (s *Service) Charge(ctx context.Context, req orgdomain.ChargeRequest) (orgdomain.OrganisationAccount, error) {
	if req.OrganisationID == 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidID
	}
	if req.Amount <= 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidAmount
	}

	err := db.WithRetry(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.ApplyTx(ctx, tx, orgdomain.ApplyRequest{
				OrganisationID: req.OrganisationID,
				Delta:          req.Amount,
				Reason:         ledgerdomain.ReasonCharge,
				PaymentID:      req.PaymentID,
				Details:        req.Details,
			})
		})
	})
	if err != nil {
		return orgdomain.OrganisationAccount{}, err
	}

	account, err := s.Get(ctx, req.OrganisationID)
	if err != nil {
		return orgdomain.OrganisationAccount{}, err
	}

	targetID := req.OrganisationID.String()
	_ = s.auditSvc.AuditLog(ctx, req.Actor, "organisation.charge", "organisation_account", &targetID, map[string]any{
		"amount":              req.Amount,
		"outstanding_balance": account.OutstandingBalance,
	})

	return account, nil
}

func (s *Service) Settle(ctx context.Context, req orgdomain.SettleRequest) (orgdomain.OrganisationAccount, error) {
	if req.OrganisationID == 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidID
	}
	if req.AmountPaid <= 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidAmount
	}
	if req.PaymentDate.IsZero() {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrInvalidSettleAt
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "transfer"
	}

	err := db.WithRetry(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.load(ctx, tx, req.OrganisationID)
			if err != nil {
				return err
			}

			if err := s.applyLocked(ctx, tx, account, orgdomain.ApplyRequest{
				OrganisationID:   req.OrganisationID,
				Delta:            -req.AmountPaid,
				Reason:           ledgerdomain.ReasonPayment,
				AllowOverpayment: req.AllowOverpayment,
				Details:          "periodic settlement",
			}); err != nil {
				return err
			}

			record := orgdomain.OrganisationPayment{
				ID:                      s.genID.Generate(),
				OrganisationID:          req.OrganisationID,
				TotalDue:                account.OutstandingBalance,
				AmountPaid:              req.AmountPaid,
				OutstandingBalanceAfter: account.OutstandingBalance - req.AmountPaid,
				PaymentMethod:           method,
				PaymentDate:             req.PaymentDate.UTC(),
				AddedBy:                 req.Actor,
				CreatedAt:               s.clock.Now(),
			}
			return tx.WithContext(ctx).Exec(
				`INSERT INTO organisation_payments (id, organisation_id, total_due, amount_paid, outstanding_balance_after, payment_method, payment_date, added_by, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				record.ID,
				record.OrganisationID,
				record.TotalDue,
				record.AmountPaid,
				record.OutstandingBalanceAfter,
				record.PaymentMethod,
				record.PaymentDate,
				record.AddedBy,
				record.CreatedAt,
			).Error
		})
	})
	if err != nil {
		return orgdomain.OrganisationAccount{}, err
	}

	account, err := s.Get(ctx, req.OrganisationID)
	if err != nil {
		return orgdomain.OrganisationAccount{}, err
	}

	targetID := req.OrganisationID.String()
	_ = s.auditSvc.AuditLog(ctx, req.Actor, "organisation.settle", "organisation_account", &targetID, map[string]any{
		"amount_paid":         req.AmountPaid,
		"outstanding_balance": account.OutstandingBalance,
		"overpayment":         req.AllowOverpayment,
	})

	return account, nil
}

func (s *Service) ListSettlements(ctx context.Context, id snowflake.ID, limit int) ([]orgdomain.OrganisationPayment, error) {
	if id == 0 {
		return nil, orgdomain.ErrInvalidID
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []orgdomain.OrganisationPayment
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, organisation_id, total_due, amount_paid, outstanding_balance_after, payment_method, payment_date, added_by, created_at
		 FROM organisation_payments
		 WHERE organisation_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		id,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, req orgdomain.ApplyRequest) error {
	account, err := s.load(ctx, tx, req.OrganisationID)
	if err != nil {
		return err
	}
	return s.applyLocked(ctx, tx, account, req)
}

func (s *Service) applyLocked(ctx context.Context, tx *gorm.DB, account orgdomain.OrganisationAccount, req orgdomain.ApplyRequest) error {
	if account.IsFrozen {
		return orgdomain.ErrAccountFrozen
	}

	before := account.OutstandingBalance
	after := before + req.Delta
	if req.Reason == ledgerdomain.ReasonPayment && after < 0 && !req.AllowOverpayment {
		return orgdomain.ErrOversettlement
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE organisation_accounts
		 SET outstanding_balance = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		after,
		s.clock.Now(),
		account.ID,
		account.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return db.ErrConcurrentModification
	}

	return s.ledgerSvc.Append(ctx, tx, &ledgerdomain.LedgerEntry{
		AccountKind:   ledgerdomain.AccountKindOrganisation,
		AccountID:     account.ID,
		BalanceKind:   ledgerdomain.BalanceKindOutstanding,
		PaymentID:     req.PaymentID,
		Delta:         req.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        req.Reason,
		Details:       req.Details,
	})
}

func (s *Service) Reconcile(ctx context.Context, id snowflake.ID) (ledgerdomain.Replay, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return ledgerdomain.Replay{}, err
	}

	replay, err := s.ledgerSvc.Replay(ctx, ledgerdomain.AccountKindOrganisation, id)
	if err != nil {
		return ledgerdomain.Replay{}, err
	}

	if replay.OutstandingTotal != account.OutstandingBalance {
		s.log.Error("organisation balance diverged from ledger",
			zap.String("organisation_id", id.String()),
			zap.Int64("cached", account.OutstandingBalance),
			zap.Int64("replayed", replay.OutstandingTotal),
		)
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE organisation_accounts
			 SET is_frozen = TRUE, version = version + 1, updated_at = ?
			 WHERE id = ?`,
			s.clock.Now(),
			id,
		).Error; err != nil {
			return ledgerdomain.Replay{}, err
		}
		if s.obsMetrics != nil {
			s.obsMetrics.ReconciliationFailures.WithLabelValues(string(ledgerdomain.AccountKindOrganisation)).Inc()
		}
		return replay, orgdomain.ErrLedgerMismatch
	}

	return replay, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (orgdomain.OrganisationAccount, error) {
	var account orgdomain.OrganisationAccount
	err := tx.WithContext(ctx).Raw(
		`SELECT id, name, org_type, outstanding_balance, is_frozen, version, created_at, updated_at
		 FROM organisation_accounts
		 WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return orgdomain.OrganisationAccount{}, err
	}
	if account.ID == 0 {
		return orgdomain.OrganisationAccount{}, orgdomain.ErrNotFound
	}
	return account, nil
}
