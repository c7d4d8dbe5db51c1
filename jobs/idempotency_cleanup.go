package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// IdempotencyCleaner removes idempotency keys past their retention window.
type IdempotencyCleaner struct {
	store      *shared.IdempotencyStore
	logger     *slog.Logger
	defaultTTL time.Duration
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger, defaultTTL time.Duration) *IdempotencyCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * 24 * time.Hour
	}
	return &IdempotencyCleaner{store: store, logger: logger, defaultTTL: defaultTTL}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ttl := payload.OlderThan
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	removed, err := c.store.Cleanup(ctx, ttl)
	if err != nil {
		return err
	}
	c.logger.Info("idempotency cleanup finished",
		slog.Int64("removed", removed),
		slog.Duration("older_than", ttl))
	return nil
}
