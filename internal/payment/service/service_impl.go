package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
	obsmetrics "github.com/clinicore/clinicore/internal/observability/metrics"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
	patientdomain "github.com/clinicore/clinicore/internal/patient/domain"
	paymentdomain "github.com/clinicore/clinicore/internal/payment/domain"
	"github.com/clinicore/clinicore/internal/payment/repository"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
	"github.com/clinicore/clinicore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          repository.Repository
	LedgerSvc     ledgerdomain.Service
	ObligationSvc obligationdomain.Service
	WalletSvc     walletdomain.Service
	OrgSvc        orgdomain.Service
	PatientRepo   patientdomain.Repository
	AuditSvc      auditdomain.Service
	Hooks         *obligationdomain.HookRegistry
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

// Service is the reconciliation engine. Every state transition that
// moves money runs as one transaction: the versioned payment update,
// the account balance movement, and the ledger entry commit together
// or not at all.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           config.Config
	genID         *snowflake.Node
	clock         clock.Clock
	repo          repository.Repository
	ledgerSvc     ledgerdomain.Service
	obligationSvc obligationdomain.Service
	walletSvc     walletdomain.Service
	orgSvc        orgdomain.Service
	patientRepo   patientdomain.Repository
	auditSvc      auditdomain.Service
	hooks         *obligationdomain.HookRegistry
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		cfg:           p.Cfg,
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		ledgerSvc:     p.LedgerSvc,
		obligationSvc: p.ObligationSvc,
		walletSvc:     p.WalletSvc,
		orgSvc:        p.OrgSvc,
		patientRepo:   p.PatientRepo,
		auditSvc:      p.AuditSvc,
		hooks:         p.Hooks,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) Open(ctx context.Context, req paymentdomain.OpenRequest) (paymentdomain.Payment, error) {
	obligation, err := s.obligationSvc.Get(ctx, req.ObligationID)
	if err != nil {
		if errors.Is(err, obligationdomain.ErrNotFound) {
			return paymentdomain.Payment{}, paymentdomain.ErrInvalidObligation
		}
		return paymentdomain.Payment{}, err
	}

	var patientID *snowflake.ID
	var customerName *string
	switch {
	case req.PatientID != nil && *req.PatientID != 0:
		if _, err := s.patientRepo.FindByID(ctx, *req.PatientID); err != nil {
			return paymentdomain.Payment{}, err
		}
		patientID = req.PatientID
	case req.CustomerName != "":
		name := req.CustomerName
		customerName = &name
	default:
		return paymentdomain.Payment{}, paymentdomain.ErrMissingPayer
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		ObligationID:   obligation.ID,
		PatientID:      patientID,
		CustomerName:   customerName,
		OrganisationID: req.OrganisationID,
		AmountPayable:  obligation.AmountPayable,
		Status:         paymentdomain.StatusCreated,
		AddedBy:        req.AddedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := payment.AppendHistory(paymentdomain.HistoryEntry{
		Action: "payment.opened",
		Actor:  req.AddedBy,
		At:     now,
	}); err != nil {
		return paymentdomain.Payment{}, err
	}

	if err := s.insertWithReference(ctx, s.db, &payment); err != nil {
		return paymentdomain.Payment{}, err
	}

	targetID := payment.ID.String()
	_ = s.auditSvc.AuditLog(ctx, req.AddedBy, "payment.open", "payment", &targetID, map[string]any{
		"transaction_reference": payment.TransactionReference,
		"obligation_id":         obligation.ID.String(),
		"amount_payable":        payment.AmountPayable,
	})
	if s.obsMetrics != nil {
		s.obsMetrics.PaymentsOpened.Inc()
	}

	return payment, nil
}

// insertWithReference retries the insert with fresh references until the
// unique index accepts one. The reference is generated once per attempt
// and never changes after a successful insert.
func (s *Service) insertWithReference(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	attempts := s.cfg.ReferenceAttempts
	if attempts < 1 {
		attempts = 5
	}
	for i := 0; i < attempts; i++ {
		reference, err := paymentdomain.NewTransactionReference()
		if err != nil {
			return err
		}
		payment.TransactionReference = reference

		inserted, err := s.repo.Insert(ctx, tx, payment)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		s.log.Warn("transaction reference collision, retrying",
			zap.String("reference", reference),
		)
	}
	return paymentdomain.ErrReferenceGenerationExhausted
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (paymentdomain.Payment, error) {
	payment, err := s.load(ctx, s.db, id)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	return *payment, nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (paymentdomain.Payment, error) {
	if reference == "" {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidReference
	}
	payment, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrNotFound
	}
	return *payment, nil
}

func (s *Service) ChooseMethod(ctx context.Context, req paymentdomain.ChooseMethodRequest) (paymentdomain.Payment, error) {
	if !paymentdomain.ValidMethod(req.Method) {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	var result paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		// Account existence checks read other services' tables, so they
		// run before the transaction opens.
		pre, err := s.load(ctx, s.db, req.PaymentID)
		if err != nil {
			return err
		}
		if err := s.validateMethod(ctx, pre, req.Method); err != nil {
			return err
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, req.PaymentID)
			if err != nil {
				return err
			}
			if payment.Status != paymentdomain.StatusCreated && payment.Status != paymentdomain.StatusPending {
				return paymentdomain.ErrStateConflict
			}
			children, err := s.repo.CountChildren(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			if children > 0 {
				return paymentdomain.ErrAlreadySplit
			}

			if req.Amount > payment.AmountPayable {
				return paymentdomain.ErrAmountExceedsPayable
			}
			if payment.ParentID != nil {
				parent, err := s.load(ctx, tx, *payment.ParentID)
				if err != nil {
					return err
				}
				siblings, err := s.repo.SumSiblingAmounts(ctx, tx, parent.ID, payment.ID)
				if err != nil {
					return err
				}
				if siblings+req.Amount > parent.AmountPayable {
					return paymentdomain.ErrAmountExceedsPayable
				}
			}

			version := payment.Version
			now := s.clock.Now()
			method := req.Method
			payment.PaymentMethod = &method
			payment.Amount = req.Amount
			payment.Status = paymentdomain.StatusPending
			payment.LastUpdatedBy = &req.Actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action:  "payment.method_chosen",
				Actor:   req.Actor,
				At:      now,
				Details: map[string]any{"method": string(req.Method), "amount": req.Amount},
			}); err != nil {
				return err
			}

			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				if db.IsDuplicateKeyErr(err) {
					return paymentdomain.ErrDuplicateMethodInSplit
				}
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}

			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, req.Actor, "payment.choose_method", result.ID, map[string]any{
		"method": string(req.Method),
		"amount": req.Amount,
	})

	return result, nil
}

func (s *Service) Split(ctx context.Context, req paymentdomain.SplitRequest) ([]paymentdomain.Payment, error) {
	if len(req.Allocations) == 0 {
		return nil, paymentdomain.ErrEmptySplit
	}
	seen := map[paymentdomain.Method]bool{}
	var total int64
	for _, allocation := range req.Allocations {
		if !paymentdomain.ValidMethod(allocation.Method) {
			return nil, paymentdomain.ErrInvalidMethod
		}
		if allocation.Amount <= 0 {
			return nil, paymentdomain.ErrInvalidAmount
		}
		if seen[allocation.Method] {
			return nil, paymentdomain.ErrDuplicateMethodInSplit
		}
		seen[allocation.Method] = true
		total += allocation.Amount
	}

	var legs []paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		legs = legs[:0]

		pre, err := s.load(ctx, s.db, req.PaymentID)
		if err != nil {
			return err
		}
		for _, allocation := range req.Allocations {
			if err := s.validateMethod(ctx, pre, allocation.Method); err != nil {
				return err
			}
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			parent, err := s.load(ctx, tx, req.PaymentID)
			if err != nil {
				return err
			}
			if parent.ParentID != nil {
				return paymentdomain.ErrPaymentIsLeg
			}
			if parent.Status != paymentdomain.StatusCreated {
				return paymentdomain.ErrStateConflict
			}
			children, err := s.repo.CountChildren(ctx, tx, parent.ID)
			if err != nil {
				return err
			}
			if children > 0 {
				return paymentdomain.ErrAlreadySplit
			}
			if total != parent.AmountPayable {
				return paymentdomain.ErrAmountMismatch
			}

			now := s.clock.Now()
			for _, allocation := range req.Allocations {
				parentID := parent.ID
				method := allocation.Method
				leg := paymentdomain.Payment{
					ID:             s.genID.Generate(),
					ParentID:       &parentID,
					ObligationID:   parent.ObligationID,
					PatientID:      parent.PatientID,
					CustomerName:   parent.CustomerName,
					OrganisationID: parent.OrganisationID,
					AmountPayable:  allocation.Amount,
					Amount:         allocation.Amount,
					PaymentMethod:  &method,
					Status:         paymentdomain.StatusPending,
					AddedBy:        req.Actor,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := leg.AppendHistory(paymentdomain.HistoryEntry{
					Action:  "payment.split_leg",
					Actor:   req.Actor,
					At:      now,
					Details: map[string]any{"method": string(allocation.Method), "amount": allocation.Amount},
				}); err != nil {
					return err
				}
				if err := s.insertWithReference(ctx, tx, &leg); err != nil {
					return err
				}
				legs = append(legs, leg)
			}

			version := parent.Version
			parent.Status = paymentdomain.StatusPending
			parent.LastUpdatedBy = &req.Actor
			parent.UpdatedAt = now
			if err := parent.AppendHistory(paymentdomain.HistoryEntry{
				Action:  "payment.split",
				Actor:   req.Actor,
				At:      now,
				Details: map[string]any{"legs": len(req.Allocations)},
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, parent, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, "payment.split", req.PaymentID, map[string]any{
		"legs": len(legs),
	})

	return legs, nil
}

func (s *Service) Confirm(ctx context.Context, id snowflake.ID, actor string) (paymentdomain.Payment, error) {
	var result paymentdomain.Payment
	var settledNow *obligationdomain.Obligation

	err := s.withRetry(ctx, func() error {
		settledNow = nil

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}

			// Retried confirms land here: already in target state, one
			// ledger entry exists, return success without a second one.
			if payment.Status == paymentdomain.StatusCompleted {
				result = *payment
				return nil
			}
			if payment.Status != paymentdomain.StatusPending || payment.PaymentMethod == nil {
				return paymentdomain.ErrStateConflict
			}

			// The conservation bound is read on the locked row, so an
			// amount revision either committed before this transaction
			// and is seen here, or loses its version check after it.
			obligation, err := s.obligationSvc.LockTx(ctx, tx, payment.ObligationID)
			if err != nil {
				return err
			}

			settled, err := s.obligationSvc.SettledAmount(ctx, tx, payment.ObligationID)
			if err != nil {
				return err
			}
			if settled+payment.Amount > obligation.AmountPayable {
				return paymentdomain.ErrAmountExceedsPayable
			}

			if err := s.moveAccount(ctx, tx, payment, -payment.Amount, ledgerdomain.ReasonPayment); err != nil {
				return err
			}

			version := payment.Version
			now := s.clock.Now()
			payment.Status = paymentdomain.StatusCompleted
			payment.IsConfirmed = true
			payment.IsUsed = true
			payment.ConfirmedBy = &actor
			payment.LastUpdatedBy = &actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action: "payment.confirmed",
				Actor:  actor,
				At:     now,
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}

			if settled+payment.Amount == obligation.AmountPayable {
				if err := s.obligationSvc.SetSettledTx(ctx, tx, obligation.ID, true); err != nil {
					return err
				}
				settledNow = &obligation
			}

			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	if settledNow != nil {
		s.fireSettlementHook(ctx, *settledNow)
	}
	s.audit(ctx, actor, "payment.confirm", result.ID, map[string]any{
		"amount": result.Amount,
	})
	if s.obsMetrics != nil && result.PaymentMethod != nil {
		s.obsMetrics.PaymentsConfirmed.WithLabelValues(string(*result.PaymentMethod)).Inc()
	}

	return result, nil
}

func (s *Service) Unconfirm(ctx context.Context, id snowflake.ID, actor string) (paymentdomain.Payment, error) {
	var result paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if payment.Status != paymentdomain.StatusCompleted {
				return paymentdomain.ErrStateConflict
			}

			if err := s.moveAccount(ctx, tx, payment, payment.Amount, ledgerdomain.ReasonAdjustment); err != nil {
				return err
			}

			version := payment.Version
			now := s.clock.Now()
			payment.Status = paymentdomain.StatusPending
			payment.IsConfirmed = false
			payment.IsUsed = false
			payment.ConfirmedBy = nil
			payment.LastUpdatedBy = &actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action: "payment.unconfirmed",
				Actor:  actor,
				At:     now,
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}

			if err := s.obligationSvc.SetSettledTx(ctx, tx, payment.ObligationID, false); err != nil {
				return err
			}

			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, actor, "payment.unconfirm", result.ID, nil)
	return result, nil
}

func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.Payment, error) {
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	var result paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, req.PaymentID)
			if err != nil {
				return err
			}
			if payment.Status == paymentdomain.StatusRefunded {
				result = *payment
				return nil
			}
			if payment.Status != paymentdomain.StatusCompleted {
				return paymentdomain.ErrStateConflict
			}
			if req.Amount > payment.Amount {
				return paymentdomain.ErrRefundExceedsAmount
			}

			if err := s.moveAccount(ctx, tx, payment, req.Amount, ledgerdomain.ReasonRefund); err != nil {
				return err
			}

			version := payment.Version
			now := s.clock.Now()
			refund := req.Amount
			payment.Status = paymentdomain.StatusRefunded
			payment.RefundAmount = &refund
			payment.IsUsed = false
			payment.LastUpdatedBy = &req.Actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action:  "payment.refunded",
				Actor:   req.Actor,
				At:      now,
				Details: map[string]any{"refund_amount": req.Amount},
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}

			// The refunded leg has left the completed set, so the
			// obligation cannot remain fully settled. Sibling legs keep
			// their own completed state untouched.
			if err := s.obligationSvc.SetSettledTx(ctx, tx, payment.ObligationID, false); err != nil {
				return err
			}

			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, req.Actor, "payment.refund", result.ID, map[string]any{
		"refund_amount": req.Amount,
	})
	if s.obsMetrics != nil && result.PaymentMethod != nil {
		s.obsMetrics.PaymentsRefunded.WithLabelValues(string(*result.PaymentMethod)).Inc()
	}

	return result, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, actor string) (paymentdomain.Payment, error) {
	return s.terminate(ctx, id, actor, paymentdomain.StatusCancelled, "payment.cancelled")
}

func (s *Service) Fail(ctx context.Context, id snowflake.ID, actor string) (paymentdomain.Payment, error) {
	return s.terminate(ctx, id, actor, paymentdomain.StatusFailed, "payment.failed")
}

// terminate handles the side-effect-free exits: no ledger entry exists
// before completion, so cancel and fail only move the state machine.
func (s *Service) terminate(ctx context.Context, id snowflake.ID, actor string, target paymentdomain.Status, action string) (paymentdomain.Payment, error) {
	var result paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if payment.Status == target {
				result = *payment
				return nil
			}
			if !payment.Status.CanTransition(target) {
				return paymentdomain.ErrStateConflict
			}

			version := payment.Version
			now := s.clock.Now()
			payment.Status = target
			payment.LastUpdatedBy = &actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action: action,
				Actor:  actor,
				At:     now,
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}
			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, actor, action, result.ID, nil)
	return result, nil
}

func (s *Service) UpdateAmountPayable(ctx context.Context, id snowflake.ID, newAmount int64, actor string) (paymentdomain.Payment, error) {
	if newAmount < 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	var result paymentdomain.Payment
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if payment.Status != paymentdomain.StatusCreated && payment.Status != paymentdomain.StatusPending {
				return paymentdomain.ErrStateConflict
			}
			if payment.Amount > newAmount {
				return paymentdomain.ErrAmountExceedsPayable
			}

			// A root payment mirrors its obligation's amount payable; the
			// two move in one transaction so a later confirm checks
			// conservation against the same bound. Split legs carry only
			// their allocation bound.
			if payment.ParentID == nil {
				if _, err := s.obligationSvc.ReviseAmountTx(ctx, tx, payment.ObligationID, newAmount); err != nil {
					return err
				}
			}

			version := payment.Version
			now := s.clock.Now()
			payment.AmountPayable = newAmount
			payment.LastUpdatedBy = &actor
			payment.UpdatedAt = now
			if err := payment.AppendHistory(paymentdomain.HistoryEntry{
				Action:  "payment.amount_payable_updated",
				Actor:   actor,
				At:      now,
				Details: map[string]any{"amount_payable": newAmount},
			}); err != nil {
				return err
			}
			updated, err := s.repo.UpdateVersioned(ctx, tx, payment, version)
			if err != nil {
				return err
			}
			if !updated {
				return db.ErrConcurrentModification
			}
			result = *payment
			return nil
		})
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, actor, "payment.update_amount_payable", result.ID, map[string]any{
		"amount_payable": newAmount,
	})
	return result, nil
}

// moveAccount posts the single account movement for a transition. Cash
// and transfer settle outside any tracked account and post nothing.
func (s *Service) moveAccount(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, delta int64, reason ledgerdomain.EntryReason) error {
	if payment.PaymentMethod == nil || !payment.PaymentMethod.TouchesAccount() {
		return nil
	}

	paymentID := payment.ID
	switch *payment.PaymentMethod {
	case paymentdomain.MethodWallet:
		if payment.PatientID == nil {
			return paymentdomain.ErrInvalidMethod
		}
		err := s.walletSvc.ApplyTx(ctx, tx, walletdomain.ApplyRequest{
			PatientID:   *payment.PatientID,
			BalanceKind: ledgerdomain.BalanceKindDeposit,
			Delta:       delta,
			Reason:      reason,
			PaymentID:   &paymentID,
			Details:     payment.TransactionReference,
		})
		if errors.Is(err, walletdomain.ErrInsufficientFunds) {
			return paymentdomain.ErrInsufficientWalletBalance
		}
		if err != nil {
			return err
		}
	case paymentdomain.MethodHMO, paymentdomain.MethodOrganisation:
		if payment.OrganisationID == nil {
			return paymentdomain.ErrMissingOrganisation
		}
		// The payer's receivable may cross zero here; credit in the
		// payer's favour is the documented convention, not an error.
		if err := s.orgSvc.ApplyTx(ctx, tx, orgdomain.ApplyRequest{
			OrganisationID:   *payment.OrganisationID,
			Delta:            delta,
			Reason:           reason,
			PaymentID:        &paymentID,
			Details:          payment.TransactionReference,
			AllowOverpayment: true,
		}); err != nil {
			return err
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.LedgerEntries.WithLabelValues(string(reason)).Inc()
	}
	return nil
}

// validateMethod checks that the payment can carry the method: wallet
// needs an open, unfrozen wallet for the payer; hmo and organisation
// need a known organisation account.
func (s *Service) validateMethod(ctx context.Context, payment *paymentdomain.Payment, method paymentdomain.Method) error {
	switch method {
	case paymentdomain.MethodWallet:
		if payment.PatientID == nil {
			return paymentdomain.ErrInvalidMethod
		}
		account, err := s.walletSvc.Get(ctx, *payment.PatientID)
		if err != nil {
			if errors.Is(err, walletdomain.ErrNotFound) {
				return paymentdomain.ErrInvalidMethod
			}
			return err
		}
		if account.IsFrozen {
			return walletdomain.ErrAccountFrozen
		}
	case paymentdomain.MethodHMO, paymentdomain.MethodOrganisation:
		if payment.OrganisationID == nil {
			return paymentdomain.ErrMissingOrganisation
		}
		if _, err := s.orgSvc.Get(ctx, *payment.OrganisationID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fireSettlementHook(ctx context.Context, obligation obligationdomain.Obligation) {
	hook, ok := s.hooks.Get(obligation.ObligationType)
	if !ok {
		return
	}
	if err := hook.MarkSettled(ctx, obligation.ObligationType, obligation.ObligationRef); err != nil {
		s.log.Warn("settlement hook failed",
			zap.String("obligation_id", obligation.ID.String()),
			zap.String("obligation_type", string(obligation.ObligationType)),
			zap.Error(err),
		)
	}
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	attempt := 0
	return db.WithRetry(ctx, s.cfg.ConcurrencyRetries, func() error {
		attempt++
		if attempt > 1 && s.obsMetrics != nil {
			s.obsMetrics.ConcurrencyRetriesTotal.Inc()
		}
		return fn()
	})
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	if id == 0 {
		return nil, paymentdomain.ErrNotFound
	}
	payment, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) audit(ctx context.Context, actor string, action string, id snowflake.ID, metadata map[string]any) {
	targetID := id.String()
	_ = s.auditSvc.AuditLog(ctx, actor, action, "payment", &targetID, metadata)
}
