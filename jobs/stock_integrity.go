package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IntegrityScanner walks level counters looking for rows that violate the
// ledger invariants: reserved below zero, or reserved above on-hand while
// negative stock is disallowed. Violations are reported, never repaired;
// a human decides what correction to post.
type IntegrityScanner struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewIntegrityScanner constructs the scanner.
func NewIntegrityScanner(pool *pgxpool.Pool, logger *slog.Logger) *IntegrityScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityScanner{pool: pool, logger: logger}
}

// Handle processes TaskStockIntegrityScan tasks.
func (s *IntegrityScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	start := time.Now()
	violations, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("stock integrity scan finished",
		slog.Int("violations", violations),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Scan reports the number of violating rows found.
func (s *IntegrityScanner) Scan(ctx context.Context) (int, error) {
	const query = `
SELECT item_id, warehouse_id, quantity, reserved_quantity
FROM stock_levels
WHERE reserved_quantity < 0 OR quantity - reserved_quantity < 0
ORDER BY item_id, warehouse_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var itemID, warehouseID int64
		var quantity, reserved string
		if err := rows.Scan(&itemID, &warehouseID, &quantity, &reserved); err != nil {
			return count, err
		}
		count++
		s.logger.Warn("stock level invariant violated",
			slog.Int64("item_id", itemID),
			slog.Int64("warehouse_id", warehouseID),
			slog.String("quantity", quantity),
			slog.String("reserved_quantity", reserved))
	}
	return count, rows.Err()
}
