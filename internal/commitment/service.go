package commitment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
	"github.com/quartermaster-erp/quartermaster/internal/stock"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the commit/fulfill/cancel workflow for demand lines.
// Delivery creation, consolidated delivery, and production material issue all
// reduce to the same sequence: validate outstanding, reserve, draft, and
// later post plus release, each step atomic with its bookkeeping.
type Service struct {
	repo   RepositoryPort
	engine *stock.Engine
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, engine *stock.Engine, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, audit: audit, logger: logger}
}

// ComputeOutstanding returns ordered minus the quantity already fulfilled by
// done ledger entries referencing the line.
func (s *Service) ComputeOutstanding(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	line, err := s.repo.GetDemandLine(ctx, demandLineID)
	if err != nil {
		return decimal.Zero, err
	}
	fulfilled, err := s.repo.SumPostedQuantity(ctx, demandLineID)
	if err != nil {
		return decimal.Zero, err
	}
	return line.OrderedQuantity.Sub(fulfilled), nil
}

// Commit reserves quantity for a demand line and creates the draft ledger
// entry that a later Fulfill will post. Active reservations on the line
// count against the outstanding quantity so two open commitments cannot
// jointly exceed the line.
func (s *Service) Commit(ctx context.Context, input CommitInput) (Commitment, error) {
	var result Commitment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.commitTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Commitment{}, err
	}
	s.recordAudit(ctx, input.ActorID, "commitment:commit", result)
	return result, nil
}

// CommitMany commits several demand lines in one transaction, typically a
// consolidated delivery batching lines from multiple documents. The batch is
// all-or-nothing: one shortfall rejects every line. Inputs are processed in
// ascending (item, warehouse) order to respect the global lock order.
func (s *Service) CommitMany(ctx context.Context, inputs []CommitInput) ([]Commitment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ordered := make([]CommitInput, len(inputs))
	copy(ordered, inputs)
	lineItems := make(map[int64]int64, len(ordered))
	for _, in := range ordered {
		line, err := s.repo.GetDemandLine(ctx, in.DemandLineID)
		if err != nil {
			return nil, err
		}
		lineItems[in.DemandLineID] = line.ItemID
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a := stock.LevelKey{ItemID: lineItems[ordered[i].DemandLineID], WarehouseID: ordered[i].WarehouseID}
		b := stock.LevelKey{ItemID: lineItems[ordered[j].DemandLineID], WarehouseID: ordered[j].WarehouseID}
		return a.Less(b)
	})
	results := make([]Commitment, 0, len(ordered))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range ordered {
			c, err := s.commitTx(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("demand line %d: %w", in.DemandLineID, err)
			}
			results = append(results, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range results {
		s.recordAudit(ctx, 0, "commitment:commit", c)
	}
	return results, nil
}

func (s *Service) commitTx(ctx context.Context, tx TxRepository, input CommitInput) (Commitment, error) {
	if !input.Quantity.IsPositive() {
		return Commitment{}, stock.ErrInvalidQuantity
	}
	if input.WarehouseID == 0 {
		return Commitment{}, fmt.Errorf("commitment: warehouse required")
	}
	// The line row lock serializes concurrent commits against the same line.
	line, err := tx.GetDemandLineForUpdate(ctx, input.DemandLineID)
	if err != nil {
		return Commitment{}, err
	}
	fulfilled, err := tx.SumPostedQuantity(ctx, line.ID)
	if err != nil {
		return Commitment{}, err
	}
	reserved, err := tx.SumReservedQuantity(ctx, line.ID)
	if err != nil {
		return Commitment{}, err
	}
	outstanding := line.OrderedQuantity.Sub(fulfilled).Sub(reserved)
	if input.Quantity.GreaterThan(outstanding) {
		return Commitment{}, &ExceedsOutstandingError{
			DemandLineID: line.ID,
			Outstanding:  outstanding,
			Requested:    input.Quantity,
		}
	}
	if _, err := s.engine.ReserveTx(ctx, tx.Stock(), stock.ReserveInput{
		ItemID:      line.ItemID,
		WarehouseID: input.WarehouseID,
		Quantity:    input.Quantity,
		Origin:      line.ReferenceNumber,
		ActorID:     input.ActorID,
	}); err != nil {
		return Commitment{}, err
	}
	draft, err := s.engine.CreateDraftTx(ctx, tx.Stock(), stock.DraftInput{
		ItemID:            line.ItemID,
		WarehouseID:       input.WarehouseID,
		Type:              stock.TransactionTypeIssue,
		Quantity:          input.Quantity,
		ReferenceDocument: line.ReferenceDocument,
		ReferenceNumber:   line.ReferenceNumber,
		Origin:            input.Origin,
		Notes:             input.Notes,
		ActorID:           input.ActorID,
	})
	if err != nil {
		return Commitment{}, err
	}
	c := Commitment{
		ID:            uuid.New(),
		DemandLineID:  line.ID,
		ItemID:        line.ItemID,
		WarehouseID:   input.WarehouseID,
		Quantity:      input.Quantity,
		TransactionID: draft.ID,
		Status:        StatusReserved,
	}
	if err := tx.InsertCommitment(ctx, c); err != nil {
		return Commitment{}, err
	}
	return c, nil
}

// Fulfill posts the commitment's draft ledger entry and releases the
// matching reservation in one transaction: on-hand and reserved both drop
// by the committed quantity, leaving available unchanged by this step.
// Fulfilling an already fulfilled commitment is a no-op.
func (s *Service) Fulfill(ctx context.Context, id uuid.UUID) (Commitment, error) {
	var result Commitment
	var applied bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCommitmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case StatusFulfilled:
			result = c
			return nil
		case StatusCancelled:
			return ErrCancelled
		}
		if _, _, err := s.engine.PostTx(ctx, tx.Stock(), c.TransactionID); err != nil {
			return err
		}
		if _, err := s.engine.ReleaseTx(ctx, tx.Stock(), stock.ReserveInput{
			ItemID:      c.ItemID,
			WarehouseID: c.WarehouseID,
			Quantity:    c.Quantity,
		}); err != nil {
			return err
		}
		if err := tx.UpdateCommitmentStatus(ctx, c.ID, StatusFulfilled); err != nil {
			return err
		}
		c.Status = StatusFulfilled
		result = c
		applied = true
		return nil
	})
	if err != nil {
		return Commitment{}, err
	}
	if applied {
		s.recordAudit(ctx, 0, "commitment:fulfill", result)
	}
	return result, nil
}

// Cancel releases the reservation of an unfulfilled commitment. Its draft
// ledger entry is left in draft and never posted. Cancelling twice is a
// no-op; cancelling a fulfilled commitment is rejected.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (Commitment, error) {
	var result Commitment
	var applied bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCommitmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case StatusCancelled:
			result = c
			return nil
		case StatusFulfilled:
			return ErrAlreadyFulfilled
		}
		if _, err := s.engine.ReleaseTx(ctx, tx.Stock(), stock.ReserveInput{
			ItemID:      c.ItemID,
			WarehouseID: c.WarehouseID,
			Quantity:    c.Quantity,
		}); err != nil {
			return err
		}
		if err := tx.UpdateCommitmentStatus(ctx, c.ID, StatusCancelled); err != nil {
			return err
		}
		c.Status = StatusCancelled
		result = c
		applied = true
		return nil
	})
	if err != nil {
		return Commitment{}, err
	}
	if applied {
		s.recordAudit(ctx, 0, "commitment:cancel", result)
	}
	return result, nil
}

// CreateDemandLine registers an external document line with the engine.
func (s *Service) CreateDemandLine(ctx context.Context, line DemandLine) (DemandLine, error) {
	if line.ItemID == 0 {
		return DemandLine{}, fmt.Errorf("commitment: item required")
	}
	if !line.OrderedQuantity.IsPositive() {
		return DemandLine{}, stock.ErrInvalidQuantity
	}
	id, err := s.repo.CreateDemandLine(ctx, line)
	if err != nil {
		return DemandLine{}, err
	}
	line.ID = id
	return line, nil
}

// GetDemandLine returns the stored demand line.
func (s *Service) GetDemandLine(ctx context.Context, id int64) (DemandLine, error) {
	return s.repo.GetDemandLine(ctx, id)
}

// GetCommitment returns one commitment.
func (s *Service) GetCommitment(ctx context.Context, id uuid.UUID) (Commitment, error) {
	return s.repo.GetCommitment(ctx, id)
}

// ListCommitments lists commitments for reporting and reconciliation.
func (s *Service) ListCommitments(ctx context.Context, filter ListFilter) ([]Commitment, error) {
	return s.repo.ListCommitments(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, c Commitment) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "commitment",
		EntityID: c.ID.String(),
		Meta: map[string]any{
			"demand_line_id": c.DemandLineID,
			"item_id":        c.ItemID,
			"warehouse_id":   c.WarehouseID,
			"qty":            c.Quantity.String(),
			"status":         string(c.Status),
		},
	})
}
