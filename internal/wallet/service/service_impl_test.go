package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	ledgerservice "github.com/clinicore/clinicore/internal/ledger/service"
	obsmetrics "github.com/clinicore/clinicore/internal/observability/metrics"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type auditStub struct{}

func (auditStub) AuditLog(ctx context.Context, actorID string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) ([]auditdomain.AuditLog, error) {
	return nil, nil
}

func setupWalletService(t *testing.T) (walletdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.Exec(`CREATE TABLE wallet_accounts (
		patient_id BIGINT PRIMARY KEY,
		deposit_balance BIGINT NOT NULL DEFAULT 0,
		outstanding_balance BIGINT NOT NULL DEFAULT 0,
		is_frozen BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create wallet_accounts: %v", err)
	}
	if err := db.Exec(`CREATE TABLE ledger_entries (
		id BIGINT PRIMARY KEY,
		account_kind TEXT NOT NULL,
		account_id BIGINT NOT NULL,
		balance_kind TEXT NOT NULL,
		payment_id BIGINT,
		delta BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reason TEXT NOT NULL,
		details TEXT,
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create ledger_entries: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Now())
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Cfg:       config.Config{ConcurrencyRetries: 3},
		Clock:     clk,
		LedgerSvc: ledgerSvc,
		AuditSvc:  auditStub{},
	})
	return svc, db, node
}

func TestOpenWalletIdempotent(t *testing.T) {
	svc, db, node := setupWalletService(t)
	patientID := node.Generate()

	first, err := svc.Open(context.Background(), patientID)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := svc.Open(context.Background(), patientID)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if first.PatientID != second.PatientID {
		t.Fatalf("expected same account, got %s vs %s", first.PatientID, second.PatientID)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM wallet_accounts WHERE patient_id = ?`, patientID).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 account row, got %d", count)
	}
}

func TestCreditAndDebit(t *testing.T) {
	svc, db, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	account, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 5000, Actor: "cashier-1"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if account.DepositBalance != 5000 {
		t.Fatalf("expected deposit 5000, got %d", account.DepositBalance)
	}

	account, err = svc.Debit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 2000, Actor: "cashier-1"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if account.DepositBalance != 3000 {
		t.Fatalf("expected deposit 3000, got %d", account.DepositBalance)
	}

	var entries int64
	if err := db.Raw(`SELECT COUNT(1) FROM ledger_entries WHERE account_id = ?`, patientID).Scan(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", entries)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc, _, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 1000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := svc.Debit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 1500, Actor: "cashier-1"})
	if !errors.Is(err, walletdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	account, err := svc.Get(ctx, patientID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.DepositBalance != 1000 {
		t.Fatalf("failed debit must not move the balance, got %d", account.DepositBalance)
	}
}

func TestChargeAndSettleOutstanding(t *testing.T) {
	svc, _, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	account, err := svc.Charge(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 4000, Actor: "billing"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if account.OutstandingBalance != 4000 {
		t.Fatalf("expected outstanding 4000, got %d", account.OutstandingBalance)
	}

	account, err = svc.SettleOutstanding(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 1500, Actor: "cashier-1"})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if account.OutstandingBalance != 2500 {
		t.Fatalf("expected outstanding 2500, got %d", account.OutstandingBalance)
	}
	if account.DepositBalance != 0 {
		t.Fatalf("outstanding moves must not touch the deposit, got %d", account.DepositBalance)
	}
}

func TestReconcileMatchesLedger(t *testing.T) {
	svc, _, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 3000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Charge(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 2000, Actor: "billing"}); err != nil {
		t.Fatalf("charge: %v", err)
	}

	replay, err := svc.Reconcile(ctx, patientID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if replay.DepositTotal != 3000 || replay.OutstandingTotal != 2000 {
		t.Fatalf("unexpected replay %+v", replay)
	}
}

func TestReconcileMismatchFreezesAccount(t *testing.T) {
	svc, db, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 3000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Corrupt the cached balance without a ledger entry.
	if err := db.Exec(`UPDATE wallet_accounts SET deposit_balance = 9999 WHERE patient_id = ?`, patientID).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, err := svc.Reconcile(ctx, patientID)
	if !errors.Is(err, walletdomain.ErrLedgerMismatch) {
		t.Fatalf("expected ledger mismatch, got %v", err)
	}

	account, err := svc.Get(ctx, patientID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !account.IsFrozen {
		t.Fatal("expected account frozen after mismatch")
	}

	_, err = svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 100, Actor: "cashier-1"})
	if !errors.Is(err, walletdomain.ErrAccountFrozen) {
		t.Fatalf("expected frozen account to reject writes, got %v", err)
	}
}

func TestReconcileMismatchCountsFailure(t *testing.T) {
	_, db, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	m := obsmetrics.NewMetricsWith(prometheus.NewRegistry())
	clk := clock.NewFakeClock(time.Now())
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Cfg:        config.Config{ConcurrencyRetries: 3},
		Clock:      clk,
		LedgerSvc:  ledgerSvc,
		AuditSvc:   auditStub{},
		ObsMetrics: m,
	})

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 3000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := db.Exec(`UPDATE wallet_accounts SET deposit_balance = 9999 WHERE patient_id = ?`, patientID).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, err := svc.Reconcile(ctx, patientID)
	if !errors.Is(err, walletdomain.ErrLedgerMismatch) {
		t.Fatalf("expected ledger mismatch, got %v", err)
	}

	got := testutil.ToFloat64(m.ReconciliationFailures.WithLabelValues("wallet"))
	if got != 1 {
		t.Fatalf("expected 1 reconciliation failure counted, got %v", got)
	}
}

func TestLedgerEntriesChainPerBalance(t *testing.T) {
	svc, db, node := setupWalletService(t)
	patientID := node.Generate()
	ctx := context.Background()

	if _, err := svc.Open(ctx, patientID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Credit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 3000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Debit(ctx, walletdomain.MutateRequest{PatientID: patientID, Amount: 1000, Actor: "cashier-1"}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := db.Raw(`SELECT * FROM ledger_entries WHERE account_id = ? ORDER BY id ASC`, patientID).Scan(&entries).Error; err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].BalanceBefore != entries[0].BalanceAfter {
		t.Fatalf("chain broken: %d then %d", entries[0].BalanceAfter, entries[1].BalanceBefore)
	}
}
