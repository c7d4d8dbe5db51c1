package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepository exposes the transactional operations the engine runs while
// holding row locks.
type TxRepository interface {
	// GetLevelForUpdate returns the level row locked for update, creating
	// it lazily with zero counters when the (item, warehouse) pair has none.
	GetLevelForUpdate(ctx context.Context, itemID, warehouseID int64) (Level, error)
	UpdateLevel(ctx context.Context, level Level) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	MarkPosted(ctx context.Context, id int64, postedAt time.Time) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLevel(ctx context.Context, itemID, warehouseID int64) (Level, error)
	ListLevels(ctx context.Context, filter LevelFilter) ([]Level, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, filter LedgerFilter) ([]Transaction, error)
}

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row lock waits;
// zero keeps the server default (wait indefinitely).
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open pgx transaction so workflows owning their
// own transaction can run engine primitives inside it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction with a
// local lock timeout. Lock waits and serialization aborts surface as
// ErrLockTimeout and ErrConcurrencyConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// mapPgError translates PostgreSQL failure codes into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return ErrLockTimeout
		case "40001": // serialization_failure
			return ErrConcurrencyConflict
		case "40P01": // deadlock_detected
			return ErrConcurrencyConflict
		}
	}
	return err
}

func (r *Repository) GetLevel(ctx context.Context, itemID, warehouseID int64) (Level, error) {
	var lvl Level
	err := r.pool.QueryRow(ctx, `SELECT item_id, warehouse_id, quantity, reserved_quantity, updated_at
FROM stock_levels WHERE item_id=$1 AND warehouse_id=$2`, itemID, warehouseID).
		Scan(&lvl.ItemID, &lvl.WarehouseID, &lvl.Quantity, &lvl.ReservedQuantity, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{ItemID: itemID, WarehouseID: warehouseID}, ErrNotFound
		}
		return Level{}, err
	}
	return lvl, nil
}

func (r *Repository) ListLevels(ctx context.Context, filter LevelFilter) ([]Level, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, warehouse_id, quantity, reserved_quantity, updated_at
FROM stock_levels
WHERE ($1 = 0 OR warehouse_id = $1) AND ($2 = 0 OR item_id = $2)
ORDER BY item_id ASC, warehouse_id ASC
LIMIT $3 OFFSET $4`, filter.WarehouseID, filter.ItemID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []Level{}
	for rows.Next() {
		var lvl Level
		if err := rows.Scan(&lvl.ItemID, &lvl.WarehouseID, &lvl.Quantity, &lvl.ReservedQuantity, &lvl.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, selectTransaction+` WHERE id=$1`, id))
}

func (r *Repository) ListTransactions(ctx context.Context, filter LedgerFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, selectTransaction+`
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR warehouse_id = $2 OR dest_warehouse_id = $2)
  AND transaction_date BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY transaction_date ASC, id ASC
LIMIT $5`, filter.ItemID, filter.WarehouseID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *txRepository) GetLevelForUpdate(ctx context.Context, itemID, warehouseID int64) (Level, error) {
	// Lazy creation: first writer inserts the row, concurrent creators fall
	// through to the locked lookup via the (item, warehouse) unique key.
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (item_id, warehouse_id, quantity, reserved_quantity, updated_at)
VALUES ($1, $2, 0, 0, NOW())
ON CONFLICT (item_id, warehouse_id) DO NOTHING`, itemID, warehouseID); err != nil {
		return Level{}, err
	}
	var lvl Level
	err := r.tx.QueryRow(ctx, `SELECT item_id, warehouse_id, quantity, reserved_quantity, updated_at
FROM stock_levels WHERE item_id=$1 AND warehouse_id=$2 FOR UPDATE`, itemID, warehouseID).
		Scan(&lvl.ItemID, &lvl.WarehouseID, &lvl.Quantity, &lvl.ReservedQuantity, &lvl.UpdatedAt)
	if err != nil {
		return Level{}, err
	}
	return lvl, nil
}

func (r *txRepository) UpdateLevel(ctx context.Context, level Level) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_levels SET quantity=$3, reserved_quantity=$4, updated_at=NOW()
WHERE item_id=$1 AND warehouse_id=$2`, level.ItemID, level.WarehouseID, level.Quantity, level.ReservedQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions
(item_id, warehouse_id, dest_warehouse_id, transaction_type, move_type, quantity, transaction_date, reference_document, reference_number, origin, state, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
RETURNING id`,
		t.ItemID, t.WarehouseID, nullInt(t.DestWarehouseID), string(t.Type), string(t.MoveType), t.Quantity,
		t.TransactionDate, t.ReferenceDocument, t.ReferenceNumber, t.Origin, string(t.State), t.Notes, nullInt(t.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx, selectTransaction+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) MarkPosted(ctx context.Context, id int64, postedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transactions SET state=$2, posted_at=$3 WHERE id=$1 AND state=$4`,
		id, string(StateDone), postedAt, string(StateDraft))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectTransaction = `SELECT id, item_id, warehouse_id, COALESCE(dest_warehouse_id, 0), transaction_type, move_type, quantity,
transaction_date, reference_document, reference_number, origin, state, notes, COALESCE(created_by, 0), created_at, COALESCE(posted_at, 'epoch')
FROM stock_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var txType, moveType, state string
	err := row.Scan(&t.ID, &t.ItemID, &t.WarehouseID, &t.DestWarehouseID, &txType, &moveType, &t.Quantity,
		&t.TransactionDate, &t.ReferenceDocument, &t.ReferenceNumber, &t.Origin, &state, &t.Notes,
		&t.CreatedBy, &t.CreatedAt, &t.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.Type = TransactionType(txType)
	t.MoveType = MoveType(moveType)
	t.State = State(state)
	return t, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
