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
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
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

func setupObligationService(t *testing.T) (obligationdomain.Service, *gorm.DB, *snowflake.Node) {
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

	if err := db.Exec(`CREATE TABLE obligations (
		id BIGINT PRIMARY KEY,
		obligation_type TEXT NOT NULL,
		obligation_ref BIGINT NOT NULL,
		amount_payable BIGINT NOT NULL,
		is_settled BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create obligations: %v", err)
	}
	if err := db.Exec(`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		obligation_id BIGINT NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create payments: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Now()),
		AuditSvc: auditStub{},
	})
	return svc, db, node
}

func TestCreateRejectsUnknownType(t *testing.T) {
	svc, _, node := setupObligationService(t)

	_, err := svc.Create(context.Background(), obligationdomain.CreateRequest{
		ObligationType: "massage",
		ObligationRef:  node.Generate(),
		AmountPayable:  1000,
		Actor:          "billing",
	})
	if !errors.Is(err, obligationdomain.ErrInvalidType) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	svc, _, node := setupObligationService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, obligationdomain.CreateRequest{
		ObligationType: obligationdomain.TypeLabRequest,
		ObligationRef:  node.Generate(),
		AmountPayable:  7500,
		Actor:          "billing",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.AmountPayable != 7500 || loaded.IsSettled {
		t.Fatalf("unexpected obligation %+v", loaded)
	}
}

func TestReviseAmountBeforeAnyCompletedPayment(t *testing.T) {
	svc, _, node := setupObligationService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, obligationdomain.CreateRequest{
		ObligationType: obligationdomain.TypePrescription,
		ObligationRef:  node.Generate(),
		AmountPayable:  2000,
		Actor:          "pharmacy",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	revised, err := svc.ReviseAmount(ctx, created.ID, 2600, "pharmacy")
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if revised.AmountPayable != 2600 {
		t.Fatalf("expected 2600, got %d", revised.AmountPayable)
	}
}

func TestReviseAmountBlockedAfterCompletedPayment(t *testing.T) {
	svc, db, node := setupObligationService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, obligationdomain.CreateRequest{
		ObligationType: obligationdomain.TypeService,
		ObligationRef:  node.Generate(),
		AmountPayable:  2000,
		Actor:          "billing",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := db.Exec(
		`INSERT INTO payments (id, obligation_id, amount, status) VALUES (?, ?, 2000, 'completed')`,
		node.Generate(), created.ID,
	).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	_, err = svc.ReviseAmount(ctx, created.ID, 9000, "billing")
	if !errors.Is(err, obligationdomain.ErrObligationSettled) {
		t.Fatalf("expected revision blocked, got %v", err)
	}
}

func TestSettledAmountCountsOnlyCompleted(t *testing.T) {
	svc, db, node := setupObligationService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, obligationdomain.CreateRequest{
		ObligationType: obligationdomain.TypeAdmission,
		ObligationRef:  node.Generate(),
		AmountPayable:  5000,
		Actor:          "billing",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, seed := range []struct {
		amount int64
		status string
	}{
		{2000, "completed"},
		{1500, "pending"},
		{1000, "refunded"},
		{500, "completed"},
	} {
		if err := db.Exec(
			`INSERT INTO payments (id, obligation_id, amount, status) VALUES (?, ?, ?, ?)`,
			node.Generate(), created.ID, seed.amount, seed.status,
		).Error; err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}

	total, err := svc.SettledAmount(ctx, nil, created.ID)
	if err != nil {
		t.Fatalf("settled amount: %v", err)
	}
	if total != 2500 {
		t.Fatalf("expected settled 2500, got %d", total)
	}
}
