package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	obsmetrics "github.com/clinicore/clinicore/internal/observability/metrics"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
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
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		cfg:        p.Cfg,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Open(ctx context.Context, patientID snowflake.ID) (walletdomain.WalletAccount, error) {
	if patientID == 0 {
		return walletdomain.WalletAccount{}, walletdomain.ErrInvalidPatient
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO wallet_accounts (patient_id, deposit_balance, outstanding_balance, is_frozen, version, created_at, updated_at)
		 VALUES (?, 0, 0, FALSE, 0, ?, ?)
		 ON CONFLICT (patient_id) DO NOTHING`,
		patientID,
		now,
		now,
	).Error; err != nil {
		return walletdomain.WalletAccount{}, err
	}

	return s.Get(ctx, patientID)
}

func (s *Service) Get(ctx context.Context, patientID snowflake.ID) (walletdomain.WalletAccount, error) {
	if patientID == 0 {
		return walletdomain.WalletAccount{}, walletdomain.ErrInvalidPatient
	}
	return s.load(ctx, s.db, patientID)
}

func (s *Service) Credit(ctx context.Context, req walletdomain.MutateRequest) (walletdomain.WalletAccount, error) {
	reason := req.Reason
	if reason == "" {
		reason = ledgerdomain.ReasonAdjustment
	}
	return s.mutate(ctx, req, "wallet.credit", walletdomain.ApplyRequest{
		PatientID:   req.PatientID,
		BalanceKind: ledgerdomain.BalanceKindDeposit,
		Delta:       req.Amount,
		Reason:      reason,
		PaymentID:   req.PaymentID,
		Details:     req.Details,
	})
}

func (s *Service) Debit(ctx context.Context, req walletdomain.MutateRequest) (walletdomain.WalletAccount, error) {
	reason := req.Reason
	if reason == "" {
		reason = ledgerdomain.ReasonPayment
	}
	return s.mutate(ctx, req, "wallet.debit", walletdomain.ApplyRequest{
		PatientID:   req.PatientID,
		BalanceKind: ledgerdomain.BalanceKindDeposit,
		Delta:       -req.Amount,
		Reason:      reason,
		PaymentID:   req.PaymentID,
		Details:     req.Details,
	})
}

func (s *Service) Charge(ctx context.Context, req walletdomain.MutateRequest) (walletdomain.WalletAccount, error) {
	return s.mutate(ctx, req, "wallet.charge", walletdomain.ApplyRequest{
		PatientID:   req.PatientID,
		BalanceKind: ledgerdomain.BalanceKindOutstanding,
		Delta:       req.Amount,
		Reason:      ledgerdomain.ReasonCharge,
		PaymentID:   req.PaymentID,
		Details:     req.Details,
	})
}

func (s *Service) SettleOutstanding(ctx context.Context, req walletdomain.MutateRequest) (walletdomain.WalletAccount, error) {
	return s.mutate(ctx, req, "wallet.settle_outstanding", walletdomain.ApplyRequest{
		PatientID:   req.PatientID,
		BalanceKind: ledgerdomain.BalanceKindOutstanding,
		Delta:       -req.Amount,
		Reason:      ledgerdomain.ReasonPayment,
		PaymentID:   req.PaymentID,
		Details:     req.Details,
	})
}

func (s *Service) mutate(ctx context.Context, req walletdomain.MutateRequest, action string, apply walletdomain.ApplyRequest) (walletdomain.WalletAccount, error) {
	if req.PatientID == 0 {
		return walletdomain.WalletAccount{}, walletdomain.ErrInvalidPatient
	}
	if req.Amount <= 0 {
		return walletdomain.WalletAccount{}, walletdomain.ErrInvalidAmount
	}

	err := db.WithRetry(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.ApplyTx(ctx, tx, apply)
		})
	})
	if err != nil {
		return walletdomain.WalletAccount{}, err
	}

	account, err := s.Get(ctx, req.PatientID)
	if err != nil {
		return walletdomain.WalletAccount{}, err
	}

	targetID := req.PatientID.String()
	_ = s.auditSvc.AuditLog(ctx, req.Actor, action, "wallet_account", &targetID, map[string]any{
		"amount":              req.Amount,
		"deposit_balance":     account.DepositBalance,
		"outstanding_balance": account.OutstandingBalance,
	})

	return account, nil
}

// ApplyTx loads the account, moves one balance, and appends the ledger
// entry, all inside the supplied transaction. The versioned update makes
// concurrent writers lose cleanly instead of interleaving.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, req walletdomain.ApplyRequest) error {
	account, err := s.load(ctx, tx, req.PatientID)
	if err != nil {
		return err
	}
	if account.IsFrozen {
		return walletdomain.ErrAccountFrozen
	}

	var before int64
	switch req.BalanceKind {
	case ledgerdomain.BalanceKindDeposit:
		before = account.DepositBalance
	case ledgerdomain.BalanceKindOutstanding:
		before = account.OutstandingBalance
	default:
		return ledgerdomain.ErrInvalidBalanceKind
	}

	after := before + req.Delta
	// No overdraft on deposit; outstanding may go negative to represent
	// hospital-owed credit.
	if req.BalanceKind == ledgerdomain.BalanceKindDeposit && after < 0 {
		return walletdomain.ErrInsufficientFunds
	}

	deposit := account.DepositBalance
	outstanding := account.OutstandingBalance
	if req.BalanceKind == ledgerdomain.BalanceKindDeposit {
		deposit = after
	} else {
		outstanding = after
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE wallet_accounts
		 SET deposit_balance = ?, outstanding_balance = ?, version = version + 1, updated_at = ?
		 WHERE patient_id = ? AND version = ?`,
		deposit,
		outstanding,
		s.clock.Now(),
		req.PatientID,
		account.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return db.ErrConcurrentModification
	}

	return s.ledgerSvc.Append(ctx, tx, &ledgerdomain.LedgerEntry{
		AccountKind:   ledgerdomain.AccountKindWallet,
		AccountID:     req.PatientID,
		BalanceKind:   req.BalanceKind,
		PaymentID:     req.PaymentID,
		Delta:         req.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        req.Reason,
		Details:       req.Details,
	})
}

func (s *Service) Reconcile(ctx context.Context, patientID snowflake.ID) (ledgerdomain.Replay, error) {
	account, err := s.Get(ctx, patientID)
	if err != nil {
		return ledgerdomain.Replay{}, err
	}

	replay, err := s.ledgerSvc.Replay(ctx, ledgerdomain.AccountKindWallet, patientID)
	if err != nil {
		return ledgerdomain.Replay{}, err
	}

	if replay.DepositTotal != account.DepositBalance || replay.OutstandingTotal != account.OutstandingBalance {
		s.log.Error("wallet balance diverged from ledger",
			zap.String("patient_id", patientID.String()),
			zap.Int64("cached_deposit", account.DepositBalance),
			zap.Int64("replayed_deposit", replay.DepositTotal),
			zap.Int64("cached_outstanding", account.OutstandingBalance),
			zap.Int64("replayed_outstanding", replay.OutstandingTotal),
		)
		if err := s.freeze(ctx, patientID); err != nil {
			return ledgerdomain.Replay{}, err
		}
		if s.obsMetrics != nil {
			s.obsMetrics.ReconciliationFailures.WithLabelValues(string(ledgerdomain.AccountKindWallet)).Inc()
		}
		return replay, walletdomain.ErrLedgerMismatch
	}

	return replay, nil
}

func (s *Service) freeze(ctx context.Context, patientID snowflake.ID) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE wallet_accounts
		 SET is_frozen = TRUE, version = version + 1, updated_at = ?
		 WHERE patient_id = ?`,
		s.clock.Now(),
		patientID,
	).Error
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, patientID snowflake.ID) (walletdomain.WalletAccount, error) {
	var account walletdomain.WalletAccount
	err := tx.WithContext(ctx).Raw(
		`SELECT patient_id, deposit_balance, outstanding_balance, is_frozen, version, created_at, updated_at
		 FROM wallet_accounts
		 WHERE patient_id = ?`,
		patientID,
	).Scan(&account).Error
	if err != nil {
		return walletdomain.WalletAccount{}, err
	}
	if account.PatientID == 0 {
		return walletdomain.WalletAccount{}, walletdomain.ErrNotFound
	}
	return account, nil
}
