package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaleReservationReporter lists commitments that have been sitting in the
// reserved state longer than the configured age. Report only: releasing a
// stale reservation is an operator decision.
type StaleReservationReporter struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	defaultAge time.Duration
}

// NewStaleReservationReporter constructs the reporter.
func NewStaleReservationReporter(pool *pgxpool.Pool, logger *slog.Logger, defaultAge time.Duration) *StaleReservationReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultAge <= 0 {
		defaultAge = 7 * 24 * time.Hour
	}
	return &StaleReservationReporter{pool: pool, logger: logger, defaultAge: defaultAge}
}

// Handle processes TaskStaleReservations tasks.
func (r *StaleReservationReporter) Handle(ctx context.Context, t *asynq.Task) error {
	var payload StaleReservationsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	age := payload.OlderThan
	if age <= 0 {
		age = r.defaultAge
	}
	count, err := r.Report(ctx, age)
	if err != nil {
		return err
	}
	r.logger.Info("stale reservation report finished",
		slog.Int("stale", count),
		slog.Duration("older_than", age))
	return nil
}

// Report logs reserved commitments older than the cutoff and returns their count.
func (r *StaleReservationReporter) Report(ctx context.Context, olderThan time.Duration) (int, error) {
	const query = `
SELECT id, demand_line_id, item_id, warehouse_id, quantity, created_at
FROM commitments
WHERE status = 'reserved' AND created_at < $1
ORDER BY created_at`

	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		var demandLineID, itemID, warehouseID int64
		var quantity string
		var createdAt time.Time
		if err := rows.Scan(&id, &demandLineID, &itemID, &warehouseID, &quantity, &createdAt); err != nil {
			return count, err
		}
		count++
		r.logger.Warn("stale reservation",
			slog.String("commitment_id", id),
			slog.Int64("demand_line_id", demandLineID),
			slog.Int64("item_id", itemID),
			slog.Int64("warehouse_id", warehouseID),
			slog.String("quantity", quantity),
			slog.Time("created_at", createdAt))
	}
	return count, rows.Err()
}
