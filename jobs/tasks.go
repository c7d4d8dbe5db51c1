package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrityScan checks level counters for invariant violations.
	TaskStockIntegrityScan = "stock:integrity_scan"
	// TaskStaleReservations reports long-lived active reservations.
	TaskStaleReservations = "stock:stale_reservations"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// IntegrityScanPayload carries scheduling metadata for the scan.
type IntegrityScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIntegrityScanTask constructs an Asynq task for the stock integrity scan.
func NewIntegrityScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}

// StaleReservationsPayload bounds the stale reservation report.
type StaleReservationsPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewStaleReservationsTask constructs an Asynq task for the stale reservation report.
func NewStaleReservationsTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StaleReservationsPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleReservations, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window for cleanup.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for idempotency key cleanup.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
