package commitment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type commitRequest struct {
	DemandLineID int64  `json:"demand_line_id" validate:"required,gt=0"`
	WarehouseID  int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity     string `json:"quantity" validate:"required"`
	Origin       string `json:"origin" validate:"max=64"`
	Notes        string `json:"notes"`
	ActorID      int64  `json:"actor_id"`
}

func (r commitRequest) toInput() (CommitInput, error) {
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return CommitInput{}, fmt.Errorf("parse quantity: %w", err)
	}
	return CommitInput{
		DemandLineID: r.DemandLineID,
		WarehouseID:  r.WarehouseID,
		Quantity:     qty,
		Origin:       r.Origin,
		Notes:        r.Notes,
		ActorID:      r.ActorID,
	}, nil
}

type commitManyRequest struct {
	Commitments []commitRequest `json:"commitments" validate:"required,min=1,max=100,dive"`
}

type demandLineRequest struct {
	ItemID            int64  `json:"item_id" validate:"required,gt=0"`
	ReferenceDocument string `json:"reference_document" validate:"required,max=64"`
	ReferenceNumber   string `json:"reference_number" validate:"required,max=64"`
	OrderedQuantity   string `json:"ordered_quantity" validate:"required"`
}

func (r demandLineRequest) toLine() (DemandLine, error) {
	qty, err := decimal.NewFromString(r.OrderedQuantity)
	if err != nil {
		return DemandLine{}, fmt.Errorf("parse ordered_quantity: %w", err)
	}
	return DemandLine{
		ItemID:            r.ItemID,
		ReferenceDocument: r.ReferenceDocument,
		ReferenceNumber:   r.ReferenceNumber,
		OrderedQuantity:   qty,
	}, nil
}

type commitmentResponse struct {
	ID            string `json:"id"`
	DemandLineID  int64  `json:"demand_line_id"`
	ItemID        int64  `json:"item_id"`
	WarehouseID   int64  `json:"warehouse_id"`
	Quantity      string `json:"quantity"`
	TransactionID int64  `json:"transaction_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toCommitmentResponse(c Commitment) commitmentResponse {
	return commitmentResponse{
		ID:            c.ID.String(),
		DemandLineID:  c.DemandLineID,
		ItemID:        c.ItemID,
		WarehouseID:   c.WarehouseID,
		Quantity:      c.Quantity.String(),
		TransactionID: c.TransactionID,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type demandLineResponse struct {
	ID                int64  `json:"id"`
	ItemID            int64  `json:"item_id"`
	ReferenceDocument string `json:"reference_document"`
	ReferenceNumber   string `json:"reference_number"`
	OrderedQuantity   string `json:"ordered_quantity"`
	CreatedAt         string `json:"created_at"`
}

func toDemandLineResponse(line DemandLine) demandLineResponse {
	return demandLineResponse{
		ID:                line.ID,
		ItemID:            line.ItemID,
		ReferenceDocument: line.ReferenceDocument,
		ReferenceNumber:   line.ReferenceNumber,
		OrderedQuantity:   line.OrderedQuantity.String(),
		CreatedAt:         line.CreatedAt.UTC().Format(time.RFC3339),
	}
}
