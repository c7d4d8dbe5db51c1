package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock operations. Each mutating call runs inside one
// repository transaction so partial level updates never become visible.
type Service struct {
	repo        RepositoryPort
	engine      *Engine
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *Cache
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, engine *Engine, audit AuditPort, idem *shared.IdempotencyStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, audit: audit, idempotency: idem, cache: cache, logger: logger}
}

// Engine exposes the underlying engine for workflows that run its
// primitives inside their own transactions.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Available returns on-hand minus reserved for the (item, warehouse) pair.
// Unknown pairs report zero rather than an error: a level row that was never
// created holds no stock.
func (s *Service) Available(ctx context.Context, itemID, warehouseID int64) (decimal.Decimal, error) {
	lvl, err := s.repo.GetLevel(ctx, itemID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return lvl.Available(), nil
}

// GetLevel returns the stored level row.
func (s *Service) GetLevel(ctx context.Context, itemID, warehouseID int64) (Level, error) {
	return s.repo.GetLevel(ctx, itemID, warehouseID)
}

// ListLevels lists level rows, served from cache when one is configured.
func (s *Service) ListLevels(ctx context.Context, filter LevelFilter) ([]Level, error) {
	if s.cache == nil {
		return s.repo.ListLevels(ctx, filter)
	}
	return s.cache.Levels(ctx, filter, func(ctx context.Context) ([]Level, error) {
		return s.repo.ListLevels(ctx, filter)
	})
}

// Reserve earmarks quantity against available stock.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Level, error) {
	var lvl Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lvl, err = s.engine.ReserveTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Level{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "stock:reserve", input.ItemID, input.WarehouseID, input.Quantity, input.Origin)
	return lvl, nil
}

// Release gives back reserved quantity.
func (s *Service) Release(ctx context.Context, input ReserveInput) (Level, error) {
	var lvl Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lvl, err = s.engine.ReleaseTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Level{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "stock:release", input.ItemID, input.WarehouseID, input.Quantity, input.Origin)
	return lvl, nil
}

// CreateDraft persists a ledger entry without stock effect.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (Transaction, error) {
	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.engine.CreateDraftTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

// Post applies a draft entry's effect and marks it done. Posting an entry
// already in done state returns it unchanged.
func (s *Service) Post(ctx context.Context, id int64, actorID int64) (Transaction, error) {
	var entry Transaction
	var applied bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, applied, err = s.engine.PostTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	if applied {
		s.invalidate(ctx)
		s.recordAudit(ctx, actorID, fmt.Sprintf("stock:post:%s", entry.Type), entry.ItemID, entry.WarehouseID, entry.Quantity, entry.Origin)
	}
	return entry, nil
}

// Execute creates and posts a ledger entry in one transaction. Receipts,
// adjustments and transfers arriving from upstream documents go through
// here; the reference triple doubles as the idempotency key so a retried
// submission cannot double-apply.
func (s *Service) Execute(ctx context.Context, input DraftInput) (Transaction, error) {
	key := fmt.Sprintf("%s:%s:%s:%d:%d", input.Type, input.ReferenceDocument, input.ReferenceNumber, input.ItemID, input.WarehouseID)
	insertedKey := false
	if s.idempotency != nil && input.ReferenceNumber != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}
	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := s.engine.CreateDraftTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry, _, err = s.engine.PostTx(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transaction{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, fmt.Sprintf("stock:post:%s", entry.Type), entry.ItemID, entry.WarehouseID, entry.Quantity, entry.Origin)
	return entry, nil
}

// GetTransaction returns one ledger entry.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists posted and draft entries for reporting.
func (s *Service) ListTransactions(ctx context.Context, filter LedgerFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump stock cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, itemID, warehouseID int64, qty decimal.Decimal, origin string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_level",
		EntityID: fmt.Sprintf("%d:%d", itemID, warehouseID),
		Meta: map[string]any{
			"item_id":      itemID,
			"warehouse_id": warehouseID,
			"qty":          qty.String(),
			"origin":       origin,
		},
	})
}
