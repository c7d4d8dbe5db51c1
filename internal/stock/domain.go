package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeReceipt represents an inbound movement (GRN, purchase receipt).
	TransactionTypeReceipt TransactionType = "receipt"
	// TransactionTypeIssue represents an outbound movement (delivery, material issue).
	TransactionTypeIssue TransactionType = "issue"
	// TransactionTypeManufacturing moves stock between warehouses (internal transfer).
	TransactionTypeManufacturing TransactionType = "manufacturing"
	// TransactionTypeAdjustment indicates manual corrections.
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// MoveType qualifies the direction of a movement as read by reporting consumers.
type MoveType string

const (
	// MoveTypeInternal marks movements that keep stock inside the company.
	MoveTypeInternal MoveType = "internal"
	// MoveTypeOut marks movements that take stock out of the company.
	MoveTypeOut MoveType = "out"
)

// State is the ledger entry lifecycle. The only transition is draft to done.
type State string

const (
	// StateDraft means the entry exists but has no stock effect yet.
	StateDraft State = "draft"
	// StateDone means the entry has been posted exactly once.
	StateDone State = "done"
)

// Level holds on-hand and reserved counters per (item, warehouse).
type Level struct {
	ItemID           int64
	WarehouseID      int64
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	UpdatedAt        time.Time
}

// Available returns on-hand minus reserved.
func (l Level) Available() decimal.Decimal {
	return l.Quantity.Sub(l.ReservedQuantity)
}

// LevelKey identifies a stock level row.
type LevelKey struct {
	ItemID      int64
	WarehouseID int64
}

// Less orders keys ascending by (item, warehouse). Rows are always locked in
// this order so that multi-row operations cannot deadlock each other.
func (k LevelKey) Less(other LevelKey) bool {
	if k.ItemID != other.ItemID {
		return k.ItemID < other.ItemID
	}
	return k.WarehouseID < other.WarehouseID
}

// Transaction is an immutable ledger entry describing one stock movement.
// Quantity is always a positive magnitude; direction comes from Type and,
// for adjustments, from MoveType (internal adds, out removes).
type Transaction struct {
	ID                int64
	ItemID            int64
	WarehouseID       int64
	DestWarehouseID   int64 // set only for manufacturing transfers
	Type              TransactionType
	MoveType          MoveType
	Quantity          decimal.Decimal
	TransactionDate   time.Time
	ReferenceDocument string
	ReferenceNumber   string
	Origin            string
	State             State
	Notes             string
	CreatedBy         int64
	CreatedAt         time.Time
	PostedAt          time.Time
}

// DraftInput describes a ledger entry to be created in draft state.
type DraftInput struct {
	ItemID            int64
	WarehouseID       int64
	DestWarehouseID   int64
	Type              TransactionType
	MoveType          MoveType
	Quantity          decimal.Decimal
	TransactionDate   time.Time
	ReferenceDocument string
	ReferenceNumber   string
	Origin            string
	Notes             string
	ActorID           int64
}

// ReserveInput describes a reservation or release request.
type ReserveInput struct {
	ItemID      int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Origin      string
	ActorID     int64
}

// LedgerFilter bounds stock card queries.
type LedgerFilter struct {
	ItemID      int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// LevelFilter bounds level listing.
type LevelFilter struct {
	WarehouseID int64
	ItemID      int64
	Limit       int
	Offset      int
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrSameWarehouse indicates a transfer where source equals destination.
var ErrSameWarehouse = errors.New("stock: source and destination warehouse must differ")

// ErrNotFound indicates an unknown item, warehouse, or transaction id.
var ErrNotFound = errors.New("stock: not found")

// ErrLockTimeout is returned when a row lock could not be acquired in time.
var ErrLockTimeout = errors.New("stock: lock wait timed out")

// ErrConcurrencyConflict is returned when the database aborts the operation
// due to a serialization conflict. The caller may retry the whole operation.
var ErrConcurrencyConflict = errors.New("stock: concurrent update conflict")

// InsufficientStockError reports a reservation or issue exceeding availability.
type InsufficientStockError struct {
	ItemID      int64
	WarehouseID int64
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for item %d in warehouse %d: available %s, requested %s",
		e.ItemID, e.WarehouseID, e.Available.String(), e.Requested.String())
}

// NegativeStockError reports a movement that would drive on-hand below zero
// while the negative stock policy disallows it.
type NegativeStockError struct {
	ItemID      int64
	WarehouseID int64
	Resulting   decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stock: negative stock not allowed for item %d in warehouse %d: resulting quantity %s",
		e.ItemID, e.WarehouseID, e.Resulting.String())
}

// DefaultMoveType derives the reporting move type from the transaction type.
func DefaultMoveType(t TransactionType) MoveType {
	if t == TransactionTypeIssue {
		return MoveTypeOut
	}
	return MoveTypeInternal
}
