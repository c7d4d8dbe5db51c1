package commitment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the commitment lifecycle per demand line quantity.
type Status string

const (
	// StatusReserved means stock is earmarked and a draft ledger entry exists.
	StatusReserved Status = "reserved"
	// StatusFulfilled means the draft was posted and the reservation released.
	StatusFulfilled Status = "fulfilled"
	// StatusCancelled means the reservation was given back; the draft entry
	// stays in draft and is never posted.
	StatusCancelled Status = "cancelled"
)

// DemandLine is the engine-side record of an external document line
// (sales order line, production consumption line). The owning subsystem
// keeps the full document; the engine only needs the ordered quantity and
// the reference for traceability.
type DemandLine struct {
	ID                int64
	ItemID            int64
	ReferenceDocument string
	ReferenceNumber   string
	OrderedQuantity   decimal.Decimal
	CreatedAt         time.Time
}

// Commitment links a reservation and its draft ledger entry to a demand line.
type Commitment struct {
	ID            uuid.UUID
	DemandLineID  int64
	ItemID        int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	TransactionID int64
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CommitInput describes a request to commit quantity from a demand line.
type CommitInput struct {
	DemandLineID int64
	WarehouseID  int64
	Quantity     decimal.Decimal
	Origin       string
	Notes        string
	ActorID      int64
}

// ListFilter bounds commitment listing.
type ListFilter struct {
	DemandLineID int64
	Status       Status
	Limit        int
	Offset       int
}

// ErrNotFound indicates an unknown demand line or commitment id.
var ErrNotFound = errors.New("commitment: not found")

// ErrAlreadyFulfilled indicates a cancel on a fulfilled commitment.
var ErrAlreadyFulfilled = errors.New("commitment: already fulfilled")

// ErrCancelled indicates a fulfill on a cancelled commitment.
var ErrCancelled = errors.New("commitment: cancelled")

// ExceedsOutstandingError reports a commit above the line's remaining quantity.
type ExceedsOutstandingError struct {
	DemandLineID int64
	Outstanding  decimal.Decimal
	Requested    decimal.Decimal
}

func (e *ExceedsOutstandingError) Error() string {
	return fmt.Sprintf("commitment: quantity %s exceeds outstanding %s for demand line %d",
		e.Requested.String(), e.Outstanding.String(), e.DemandLineID)
}
