package commitment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/stock"
)

// TxRepository exposes transactional operations used by the service. Stock
// effects run on the same database transaction through Stock().
type TxRepository interface {
	Stock() stock.TxRepository
	GetDemandLineForUpdate(ctx context.Context, id int64) (DemandLine, error)
	SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error)
	SumReservedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error)
	InsertCommitment(ctx context.Context, c Commitment) error
	GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (Commitment, error)
	UpdateCommitmentStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDemandLine(ctx context.Context, id int64) (DemandLine, error)
	CreateDemandLine(ctx context.Context, line DemandLine) (int64, error)
	SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error)
	GetCommitment(ctx context.Context, id uuid.UUID) (Commitment, error)
	ListCommitments(ctx context.Context, filter ListFilter) ([]Commitment, error)
}

// Repository persists demand lines and commitments in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row lock waits;
// zero keeps the server default.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx      pgx.Tx
	stockTx stock.TxRepository
}

// WithTx executes the callback inside one repeatable-read transaction that
// also carries the stock-level mutations.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("commitment repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if r.lockTimeout > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
				return err
			}
		}
		wrapper := &txRepository{tx: tx, stockTx: stock.NewTxRepository(tx)}
		return fn(ctx, wrapper)
	})
	return mapPgError(err)
}

// mapPgError translates PostgreSQL failure codes into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return stock.ErrLockTimeout
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return stock.ErrConcurrencyConflict
		}
	}
	return err
}

func (r *Repository) GetDemandLine(ctx context.Context, id int64) (DemandLine, error) {
	return scanDemandLine(r.pool.QueryRow(ctx, selectDemandLine+` WHERE id=$1`, id))
}

func (r *Repository) CreateDemandLine(ctx context.Context, line DemandLine) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO demand_lines (item_id, reference_document, reference_number, ordered_quantity, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		line.ItemID, line.ReferenceDocument, line.ReferenceNumber, line.OrderedQuantity).Scan(&id)
	return id, err
}

func (r *Repository) SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	return sumPosted(ctx, r.pool, demandLineID)
}

func (r *Repository) GetCommitment(ctx context.Context, id uuid.UUID) (Commitment, error) {
	return scanCommitment(r.pool.QueryRow(ctx, selectCommitment+` WHERE id=$1`, id))
}

func (r *Repository) ListCommitments(ctx context.Context, filter ListFilter) ([]Commitment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, selectCommitment+`
WHERE ($1 = 0 OR demand_line_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at ASC, id ASC
LIMIT $3 OFFSET $4`, filter.DemandLineID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Commitment{}
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *txRepository) Stock() stock.TxRepository {
	return r.stockTx
}

func (r *txRepository) GetDemandLineForUpdate(ctx context.Context, id int64) (DemandLine, error) {
	return scanDemandLine(r.tx.QueryRow(ctx, selectDemandLine+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	return sumPosted(ctx, r.tx, demandLineID)
}

func (r *txRepository) SumReservedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM commitments
WHERE demand_line_id=$1 AND status=$2`, demandLineID, string(StatusReserved)).Scan(&sum)
	return sum, err
}

func (r *txRepository) InsertCommitment(ctx context.Context, c Commitment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO commitments (id, demand_line_id, item_id, warehouse_id, quantity, transaction_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())`,
		c.ID, c.DemandLineID, c.ItemID, c.WarehouseID, c.Quantity, c.TransactionID, string(c.Status))
	return err
}

func (r *txRepository) GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (Commitment, error) {
	return scanCommitment(r.tx.QueryRow(ctx, selectCommitment+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateCommitmentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE commitments SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sumPosted derives fulfilled quantity from done ledger entries linked to
// the line's commitments, keeping the ledger authoritative over counters.
func sumPosted(ctx context.Context, q queryRower, demandLineID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(t.quantity), 0)
FROM commitments c
JOIN stock_transactions t ON t.id = c.transaction_id
WHERE c.demand_line_id = $1 AND t.state = 'done'`, demandLineID).Scan(&sum)
	return sum, err
}

const selectDemandLine = `SELECT id, item_id, reference_document, reference_number, ordered_quantity, created_at FROM demand_lines`

const selectCommitment = `SELECT id, demand_line_id, item_id, warehouse_id, quantity, transaction_id, status, created_at, updated_at FROM commitments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDemandLine(row rowScanner) (DemandLine, error) {
	var line DemandLine
	err := row.Scan(&line.ID, &line.ItemID, &line.ReferenceDocument, &line.ReferenceNumber, &line.OrderedQuantity, &line.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DemandLine{}, ErrNotFound
		}
		return DemandLine{}, err
	}
	return line, nil
}

func scanCommitment(row rowScanner) (Commitment, error) {
	var c Commitment
	var status string
	err := row.Scan(&c.ID, &c.DemandLineID, &c.ItemID, &c.WarehouseID, &c.Quantity, &c.TransactionID, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commitment{}, ErrNotFound
		}
		return Commitment{}, err
	}
	c.Status = Status(status)
	return c, nil
}
