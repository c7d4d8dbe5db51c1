package stock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Engine applies reservation and movement effects on a transactional
// repository. Callers that need stock changes atomic with their own writes
// (the commitment workflow) run these primitives inside their transaction;
// Service wraps them for standalone use.
type Engine struct {
	policy Policy
	logger *slog.Logger
}

// NewEngine constructs an Engine with the given policy.
func NewEngine(policy Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policy: policy, logger: logger}
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ReserveTx earmarks qty against the level's available quantity. The
// availability check and the reserved increment happen under the row lock
// held by tx, so concurrent reservations cannot jointly overcommit.
func (e *Engine) ReserveTx(ctx context.Context, tx TxRepository, input ReserveInput) (Level, error) {
	if !input.Quantity.IsPositive() {
		return Level{}, ErrInvalidQuantity
	}
	lvl, err := tx.GetLevelForUpdate(ctx, input.ItemID, input.WarehouseID)
	if err != nil {
		return Level{}, err
	}
	if e.policy.guardsShortfall() {
		available := lvl.Available()
		if available.LessThan(input.Quantity) {
			return Level{}, &InsufficientStockError{
				ItemID:      input.ItemID,
				WarehouseID: input.WarehouseID,
				Available:   available,
				Requested:   input.Quantity,
			}
		}
	}
	lvl.ReservedQuantity = lvl.ReservedQuantity.Add(input.Quantity)
	if err := tx.UpdateLevel(ctx, lvl); err != nil {
		return Level{}, err
	}
	return lvl, nil
}

// ReleaseTx gives back a reservation. Releasing more than is reserved is a
// caller bug; the counter is clamped at zero and the excess logged rather
// than crashing or driving reserved negative.
func (e *Engine) ReleaseTx(ctx context.Context, tx TxRepository, input ReserveInput) (Level, error) {
	if !input.Quantity.IsPositive() {
		return Level{}, ErrInvalidQuantity
	}
	lvl, err := tx.GetLevelForUpdate(ctx, input.ItemID, input.WarehouseID)
	if err != nil {
		return Level{}, err
	}
	remaining := lvl.ReservedQuantity.Sub(input.Quantity)
	if remaining.IsNegative() {
		e.logger.Warn("release exceeds reserved quantity, clamping at zero",
			slog.Int64("item_id", input.ItemID),
			slog.Int64("warehouse_id", input.WarehouseID),
			slog.String("reserved", lvl.ReservedQuantity.String()),
			slog.String("requested", input.Quantity.String()))
		remaining = decimal.Zero
	}
	lvl.ReservedQuantity = remaining
	if err := tx.UpdateLevel(ctx, lvl); err != nil {
		return Level{}, err
	}
	return lvl, nil
}

// CreateDraftTx validates and persists a ledger entry in draft state.
// No stock effect is applied.
func (e *Engine) CreateDraftTx(ctx context.Context, tx TxRepository, input DraftInput) (Transaction, error) {
	if !input.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	if input.ItemID == 0 || input.WarehouseID == 0 {
		return Transaction{}, fmt.Errorf("stock: item and warehouse required")
	}
	switch input.Type {
	case TransactionTypeReceipt, TransactionTypeIssue, TransactionTypeAdjustment:
		if input.DestWarehouseID != 0 {
			return Transaction{}, fmt.Errorf("stock: destination warehouse only valid for transfers")
		}
	case TransactionTypeManufacturing:
		if input.DestWarehouseID == 0 {
			return Transaction{}, fmt.Errorf("stock: destination warehouse required for transfer")
		}
		if input.DestWarehouseID == input.WarehouseID {
			return Transaction{}, ErrSameWarehouse
		}
	default:
		return Transaction{}, fmt.Errorf("stock: unknown transaction type %q", input.Type)
	}
	moveType := input.MoveType
	if moveType == "" {
		moveType = DefaultMoveType(input.Type)
	}
	txDate := input.TransactionDate
	if txDate.IsZero() {
		txDate = time.Now().UTC()
	}
	entry := Transaction{
		ItemID:            input.ItemID,
		WarehouseID:       input.WarehouseID,
		DestWarehouseID:   input.DestWarehouseID,
		Type:              input.Type,
		MoveType:          moveType,
		Quantity:          input.Quantity,
		TransactionDate:   txDate,
		ReferenceDocument: input.ReferenceDocument,
		ReferenceNumber:   input.ReferenceNumber,
		Origin:            input.Origin,
		State:             StateDraft,
		Notes:             input.Notes,
		CreatedBy:         input.ActorID,
	}
	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, err
	}
	entry.ID = id
	entry.CreatedAt = time.Now().UTC()
	return entry, nil
}

// PostTx transitions a draft entry to done and applies its stock effect.
// Posting an entry already in done state is a no-op; the second return value
// reports whether the effect was applied by this call.
func (e *Engine) PostTx(ctx context.Context, tx TxRepository, id int64) (Transaction, bool, error) {
	entry, err := tx.GetTransactionForUpdate(ctx, id)
	if err != nil {
		return Transaction{}, false, err
	}
	if entry.State == StateDone {
		return entry, false, nil
	}
	if err := e.applyEffect(ctx, tx, entry); err != nil {
		return Transaction{}, false, err
	}
	now := time.Now().UTC()
	if err := tx.MarkPosted(ctx, entry.ID, now); err != nil {
		return Transaction{}, false, err
	}
	entry.State = StateDone
	entry.PostedAt = now
	return entry, true, nil
}

// applyEffect mutates the level rows touched by the entry. For transfers
// both rows are locked in ascending (item, warehouse) order before either
// side is written, so the debit and credit land as one atomic unit.
func (e *Engine) applyEffect(ctx context.Context, tx TxRepository, entry Transaction) error {
	switch entry.Type {
	case TransactionTypeReceipt:
		return e.addQuantity(ctx, tx, entry.ItemID, entry.WarehouseID, entry.Quantity)
	case TransactionTypeIssue:
		return e.addQuantity(ctx, tx, entry.ItemID, entry.WarehouseID, entry.Quantity.Neg())
	case TransactionTypeAdjustment:
		delta := entry.Quantity
		if entry.MoveType == MoveTypeOut {
			delta = delta.Neg()
		}
		return e.addQuantity(ctx, tx, entry.ItemID, entry.WarehouseID, delta)
	case TransactionTypeManufacturing:
		src := LevelKey{ItemID: entry.ItemID, WarehouseID: entry.WarehouseID}
		dst := LevelKey{ItemID: entry.ItemID, WarehouseID: entry.DestWarehouseID}
		first, second := src, dst
		if dst.Less(src) {
			first, second = dst, src
		}
		if _, err := tx.GetLevelForUpdate(ctx, first.ItemID, first.WarehouseID); err != nil {
			return err
		}
		if _, err := tx.GetLevelForUpdate(ctx, second.ItemID, second.WarehouseID); err != nil {
			return err
		}
		if err := e.addQuantity(ctx, tx, src.ItemID, src.WarehouseID, entry.Quantity.Neg()); err != nil {
			return err
		}
		return e.addQuantity(ctx, tx, dst.ItemID, dst.WarehouseID, entry.Quantity)
	default:
		return fmt.Errorf("stock: unknown transaction type %q", entry.Type)
	}
}

func (e *Engine) addQuantity(ctx context.Context, tx TxRepository, itemID, warehouseID int64, delta decimal.Decimal) error {
	lvl, err := tx.GetLevelForUpdate(ctx, itemID, warehouseID)
	if err != nil {
		return err
	}
	newQty := lvl.Quantity.Add(delta)
	if delta.IsNegative() && e.policy.guardsShortfall() && newQty.IsNegative() {
		return &NegativeStockError{ItemID: itemID, WarehouseID: warehouseID, Resulting: newQty}
	}
	lvl.Quantity = newQty
	return tx.UpdateLevel(ctx, lvl)
}
