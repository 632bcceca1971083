package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicore/clinicore/internal/clock"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Append writes one immutable entry inside the caller's transaction.
// The entry id and timestamp are assigned here; everything else comes
// from the account service that computed the balance movement.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry) error {
	if err := ledgerdomain.Validate(entry); err != nil {
		return err
	}

	entry.ID = s.genID.Generate()
	entry.CreatedAt = s.clock.Now()

	return tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, account_kind, account_id, balance_kind, payment_id,
			delta, balance_before, balance_after, reason, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountKind,
		entry.AccountID,
		entry.BalanceKind,
		entry.PaymentID,
		entry.Delta,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Reason,
		entry.Details,
		entry.CreatedAt,
	).Error
}

// Replay recomputes the account's balances from its full history and
// verifies every before/after link along the way.
func (s *Service) Replay(ctx context.Context, kind ledgerdomain.AccountKind, accountID snowflake.ID) (ledgerdomain.Replay, error) {
	if accountID == 0 {
		return ledgerdomain.Replay{}, ledgerdomain.ErrInvalidAccount
	}

	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, account_kind, account_id, balance_kind, payment_id,
			delta, balance_before, balance_after, reason, details, created_at
		 FROM ledger_entries
		 WHERE account_kind = ? AND account_id = ?
		 ORDER BY id ASC`,
		kind,
		accountID,
	).Scan(&entries).Error
	if err != nil {
		return ledgerdomain.Replay{}, err
	}

	replay := ledgerdomain.Replay{EntryCount: len(entries)}
	running := map[ledgerdomain.BalanceKind]int64{}
	for _, entry := range entries {
		if entry.BalanceBefore != running[entry.BalanceKind] {
			s.log.Error("ledger chain broken",
				zap.String("account_kind", string(kind)),
				zap.String("account_id", accountID.String()),
				zap.String("entry_id", entry.ID.String()),
			)
			return ledgerdomain.Replay{}, ledgerdomain.ErrBrokenChain
		}
		if entry.BalanceAfter != entry.BalanceBefore+entry.Delta {
			return ledgerdomain.Replay{}, ledgerdomain.ErrBrokenChain
		}
		running[entry.BalanceKind] = entry.BalanceAfter
	}
	replay.DepositTotal = running[ledgerdomain.BalanceKindDeposit]
	replay.OutstandingTotal = running[ledgerdomain.BalanceKindOutstanding]

	return replay, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListEntriesRequest) ([]ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, account_kind, account_id, balance_kind, payment_id,
			delta, balance_before, balance_after, reason, details, created_at
		 FROM ledger_entries
		 WHERE account_kind = ? AND account_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		req.AccountKind,
		req.AccountID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
