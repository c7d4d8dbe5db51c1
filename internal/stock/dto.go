package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quantities travel as strings on the wire so callers keep exact
// decimal precision.

type reserveRequest struct {
	ItemID      int64  `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    string `json:"quantity" validate:"required"`
	Origin      string `json:"origin" validate:"max=64"`
	ActorID     int64  `json:"actor_id"`
}

func (r reserveRequest) toInput() (ReserveInput, error) {
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return ReserveInput{}, fmt.Errorf("parse quantity: %w", err)
	}
	return ReserveInput{
		ItemID:      r.ItemID,
		WarehouseID: r.WarehouseID,
		Quantity:    qty,
		Origin:      r.Origin,
		ActorID:     r.ActorID,
	}, nil
}

type movementRequest struct {
	Type              string `json:"type" validate:"required,oneof=receipt issue manufacturing adjustment"`
	ItemID            int64  `json:"item_id" validate:"required,gt=0"`
	WarehouseID       int64  `json:"warehouse_id" validate:"required,gt=0"`
	DestWarehouseID   int64  `json:"dest_warehouse_id"`
	Quantity          string `json:"quantity" validate:"required"`
	MoveType          string `json:"move_type" validate:"omitempty,oneof=internal out"`
	ReferenceDocument string `json:"reference_document" validate:"max=64"`
	ReferenceNumber   string `json:"reference_number" validate:"max=64"`
	Origin            string `json:"origin" validate:"max=64"`
	Notes             string `json:"notes"`
	TransactionDate   string `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	ActorID           int64  `json:"actor_id"`
}

func (r movementRequest) toInput() (DraftInput, error) {
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return DraftInput{}, fmt.Errorf("parse quantity: %w", err)
	}
	in := DraftInput{
		Type:              TransactionType(r.Type),
		ItemID:            r.ItemID,
		WarehouseID:       r.WarehouseID,
		DestWarehouseID:   r.DestWarehouseID,
		Quantity:          qty,
		MoveType:          MoveType(r.MoveType),
		ReferenceDocument: r.ReferenceDocument,
		ReferenceNumber:   r.ReferenceNumber,
		Origin:            r.Origin,
		Notes:             r.Notes,
		ActorID:           r.ActorID,
	}
	if r.TransactionDate != "" {
		ts, err := time.Parse("2006-01-02", r.TransactionDate)
		if err != nil {
			return DraftInput{}, fmt.Errorf("parse transaction_date: %w", err)
		}
		in.TransactionDate = ts
	}
	return in, nil
}

type postRequest struct {
	ActorID int64 `json:"actor_id"`
}

type levelResponse struct {
	ItemID           int64  `json:"item_id"`
	WarehouseID      int64  `json:"warehouse_id"`
	Quantity         string `json:"quantity"`
	ReservedQuantity string `json:"reserved_quantity"`
	Available        string `json:"available"`
	UpdatedAt        string `json:"updated_at"`
}

func toLevelResponse(l Level) levelResponse {
	return levelResponse{
		ItemID:           l.ItemID,
		WarehouseID:      l.WarehouseID,
		Quantity:         l.Quantity.String(),
		ReservedQuantity: l.ReservedQuantity.String(),
		Available:        l.Available().String(),
		UpdatedAt:        l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type transactionResponse struct {
	ID                int64  `json:"id"`
	Type              string `json:"type"`
	ItemID            int64  `json:"item_id"`
	WarehouseID       int64  `json:"warehouse_id"`
	DestWarehouseID   int64  `json:"dest_warehouse_id,omitempty"`
	Quantity          string `json:"quantity"`
	MoveType          string `json:"move_type"`
	ReferenceDocument string `json:"reference_document,omitempty"`
	ReferenceNumber   string `json:"reference_number,omitempty"`
	Origin            string `json:"origin,omitempty"`
	State             string `json:"state"`
	Notes             string `json:"notes,omitempty"`
	TransactionDate   string `json:"transaction_date"`
	PostedAt          string `json:"posted_at,omitempty"`
}

func toTransactionResponse(tx Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                tx.ID,
		Type:              string(tx.Type),
		ItemID:            tx.ItemID,
		WarehouseID:       tx.WarehouseID,
		DestWarehouseID:   tx.DestWarehouseID,
		Quantity:          tx.Quantity.String(),
		MoveType:          string(tx.MoveType),
		ReferenceDocument: tx.ReferenceDocument,
		ReferenceNumber:   tx.ReferenceNumber,
		Origin:            tx.Origin,
		State:             string(tx.State),
		Notes:             tx.Notes,
		TransactionDate:   tx.TransactionDate.UTC().Format(time.RFC3339),
	}
	if !tx.PostedAt.IsZero() {
		resp.PostedAt = tx.PostedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
