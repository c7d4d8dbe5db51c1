package commitment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quartermaster-erp/quartermaster/internal/stock"
)

type memoryRepo struct {
	mu          sync.Mutex
	lines       map[int64]DemandLine
	commitments map[uuid.UUID]Commitment
	levels      map[string]stock.Level
	stockTxs    map[int64]stock.Transaction
	nextLineID  int64
	nextTxID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lines:       make(map[int64]DemandLine),
		commitments: make(map[uuid.UUID]Commitment),
		levels:      make(map[string]stock.Level),
		stockTxs:    make(map[int64]stock.Transaction),
	}
}

func levelKey(itemID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", itemID, warehouseID)
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx snapshots state up front and restores it when the callback fails,
// mirroring the database rollback the real repository relies on.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	savedCommitments := make(map[uuid.UUID]Commitment, len(r.commitments))
	for k, v := range r.commitments {
		savedCommitments[k] = v
	}
	savedLevels := make(map[string]stock.Level, len(r.levels))
	for k, v := range r.levels {
		savedLevels[k] = v
	}
	savedTxs := make(map[int64]stock.Transaction, len(r.stockTxs))
	for k, v := range r.stockTxs {
		savedTxs[k] = v
	}
	savedNextTxID := r.nextTxID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.commitments = savedCommitments
		r.levels = savedLevels
		r.stockTxs = savedTxs
		r.nextTxID = savedNextTxID
		return err
	}
	return nil
}

func (r *memoryRepo) GetDemandLine(ctx context.Context, id int64) (DemandLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if line, ok := r.lines[id]; ok {
		return line, nil
	}
	return DemandLine{}, ErrNotFound
}

func (r *memoryRepo) CreateDemandLine(ctx context.Context, line DemandLine) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLineID++
	line.ID = r.nextLineID
	line.CreatedAt = time.Now().UTC()
	r.lines[line.ID] = line
	return line.ID, nil
}

func (r *memoryRepo) SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumByStatus(demandLineID, StatusFulfilled), nil
}

func (r *memoryRepo) GetCommitment(ctx context.Context, id uuid.UUID) (Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.commitments[id]; ok {
		return c, nil
	}
	return Commitment{}, ErrNotFound
}

func (r *memoryRepo) ListCommitments(ctx context.Context, filter ListFilter) ([]Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Commitment{}
	for _, c := range r.commitments {
		if filter.DemandLineID != 0 && c.DemandLineID != filter.DemandLineID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *memoryRepo) sumByStatus(demandLineID int64, status Status) decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.commitments {
		if c.DemandLineID == demandLineID && c.Status == status {
			total = total.Add(c.Quantity)
		}
	}
	return total
}

func (tx *memoryTx) Stock() stock.TxRepository {
	return &memoryStockTx{repo: tx.repo}
}

func (tx *memoryTx) GetDemandLineForUpdate(ctx context.Context, id int64) (DemandLine, error) {
	if line, ok := tx.repo.lines[id]; ok {
		return line, nil
	}
	return DemandLine{}, ErrNotFound
}

func (tx *memoryTx) SumPostedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	return tx.repo.sumByStatus(demandLineID, StatusFulfilled), nil
}

func (tx *memoryTx) SumReservedQuantity(ctx context.Context, demandLineID int64) (decimal.Decimal, error) {
	return tx.repo.sumByStatus(demandLineID, StatusReserved), nil
}

func (tx *memoryTx) InsertCommitment(ctx context.Context, c Commitment) error {
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	tx.repo.commitments[c.ID] = c
	return nil
}

func (tx *memoryTx) GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (Commitment, error) {
	if c, ok := tx.repo.commitments[id]; ok {
		return c, nil
	}
	return Commitment{}, ErrNotFound
}

func (tx *memoryTx) UpdateCommitmentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	c, ok := tx.repo.commitments[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	tx.repo.commitments[id] = c
	return nil
}

type memoryStockTx struct {
	repo *memoryRepo
}

func (tx *memoryStockTx) GetLevelForUpdate(ctx context.Context, itemID, warehouseID int64) (stock.Level, error) {
	key := levelKey(itemID, warehouseID)
	if lvl, ok := tx.repo.levels[key]; ok {
		return lvl, nil
	}
	lvl := stock.Level{ItemID: itemID, WarehouseID: warehouseID, UpdatedAt: time.Now().UTC()}
	tx.repo.levels[key] = lvl
	return lvl, nil
}

func (tx *memoryStockTx) UpdateLevel(ctx context.Context, level stock.Level) error {
	tx.repo.levels[levelKey(level.ItemID, level.WarehouseID)] = level
	return nil
}

func (tx *memoryStockTx) InsertTransaction(ctx context.Context, t stock.Transaction) (int64, error) {
	tx.repo.nextTxID++
	t.ID = tx.repo.nextTxID
	tx.repo.stockTxs[t.ID] = t
	return t.ID, nil
}

func (tx *memoryStockTx) GetTransactionForUpdate(ctx context.Context, id int64) (stock.Transaction, error) {
	if t, ok := tx.repo.stockTxs[id]; ok {
		return t, nil
	}
	return stock.Transaction{}, stock.ErrNotFound
}

func (tx *memoryStockTx) MarkPosted(ctx context.Context, id int64, postedAt time.Time) error {
	t, ok := tx.repo.stockTxs[id]
	if !ok || t.State != stock.StateDraft {
		return stock.ErrNotFound
	}
	t.State = stock.StateDone
	t.PostedAt = postedAt
	tx.repo.stockTxs[id] = t
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	engine := stock.NewEngine(stock.DefaultPolicy(), nil)
	return NewService(repo, engine, nil, nil)
}

func seedScenario(repo *memoryRepo, onHand, ordered string) DemandLine {
	repo.levels[levelKey(1, 1)] = stock.Level{
		ItemID:      1,
		WarehouseID: 1,
		Quantity:    decimal.RequireFromString(onHand),
		UpdatedAt:   time.Now().UTC(),
	}
	repo.nextLineID++
	line := DemandLine{
		ID:                repo.nextLineID,
		ItemID:            1,
		ReferenceDocument: "sales_order",
		ReferenceNumber:   fmt.Sprintf("SO-%04d", repo.nextLineID),
		OrderedQuantity:   decimal.RequireFromString(ordered),
		CreatedAt:         time.Now().UTC(),
	}
	repo.lines[line.ID] = line
	return line
}

func TestCommitReservesAndDrafts(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)
	require.Equal(t, StatusReserved, c.Status)
	require.NotZero(t, c.TransactionID)

	lvl := repo.levels[levelKey(1, 1)]
	require.True(t, lvl.Quantity.Equal(decimal.RequireFromString("100")))
	require.True(t, lvl.ReservedQuantity.Equal(decimal.RequireFromString("30")))

	draft := repo.stockTxs[c.TransactionID]
	require.Equal(t, stock.StateDraft, draft.State)
	require.Equal(t, stock.TransactionTypeIssue, draft.Type)
	require.Equal(t, line.ReferenceNumber, draft.ReferenceNumber)
}

func TestCommitRejectsBeyondOutstanding(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "1000", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("60")})
	var exceeds *ExceedsOutstandingError
	require.ErrorAs(t, err, &exceeds)
	require.True(t, exceeds.Outstanding.Equal(decimal.RequireFromString("50")))
}

func TestCommitCountsActiveReservations(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "1000", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("40")})
	require.NoError(t, err)

	_, err = svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("20")})
	var exceeds *ExceedsOutstandingError
	require.ErrorAs(t, err, &exceeds)
	require.True(t, exceeds.Outstanding.Equal(decimal.RequireFromString("10")))
}

func TestFulfillPostsAndReleases(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)

	fulfilled, err := svc.Fulfill(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, fulfilled.Status)

	lvl := repo.levels[levelKey(1, 1)]
	require.True(t, lvl.Quantity.Equal(decimal.RequireFromString("70")))
	require.True(t, lvl.ReservedQuantity.IsZero())

	entry := repo.stockTxs[c.TransactionID]
	require.Equal(t, stock.StateDone, entry.State)

	outstanding, err := svc.ComputeOutstanding(ctx, line.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(decimal.RequireFromString("20")))
}

func TestFulfillTwiceIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)

	_, err = svc.Fulfill(ctx, c.ID)
	require.NoError(t, err)
	again, err := svc.Fulfill(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, again.Status)

	lvl := repo.levels[levelKey(1, 1)]
	require.True(t, lvl.Quantity.Equal(decimal.RequireFromString("70")))
}

func TestCancelReleasesReservation(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	lvl := repo.levels[levelKey(1, 1)]
	require.True(t, lvl.Quantity.Equal(decimal.RequireFromString("100")))
	require.True(t, lvl.ReservedQuantity.IsZero())

	entry := repo.stockTxs[c.TransactionID]
	require.Equal(t, stock.StateDraft, entry.State)

	outstanding, err := svc.ComputeOutstanding(ctx, line.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(decimal.RequireFromString("50")))
}

func TestCancelFulfilledRejected(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)
	_, err = svc.Fulfill(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, c.ID)
	require.ErrorIs(t, err, ErrAlreadyFulfilled)
}

func TestFulfillCancelledRejected(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.Fulfill(ctx, c.ID)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestCancelTwiceIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "100", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, c.ID)
	require.NoError(t, err)

	again, err := svc.Cancel(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, again.Status)

	lvl := repo.levels[levelKey(1, 1)]
	require.True(t, lvl.ReservedQuantity.IsZero())
}

func TestCommitInsufficientStockRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	line := seedScenario(repo, "10", "50")
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitInput{DemandLineID: line.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")})
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, repo.commitments)
}

func TestCommitManyAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	lineA := seedScenario(repo, "100", "50")
	lineB := seedScenario(repo, "100", "5")
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CommitMany(ctx, []CommitInput{
		{DemandLineID: lineA.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")},
		{DemandLineID: lineB.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("10")},
	})
	var exceeds *ExceedsOutstandingError
	require.ErrorAs(t, err, &exceeds)
	require.Empty(t, repo.commitments)
}

func TestCommitManyCommitsAllLines(t *testing.T) {
	repo := newMemoryRepo()
	lineA := seedScenario(repo, "100", "50")
	lineB := seedScenario(repo, "100", "40")
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CommitMany(ctx, []CommitInput{
		{DemandLineID: lineB.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("20")},
		{DemandLineID: lineA.ID, WarehouseID: 1, Quantity: decimal.RequireFromString("30")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, c := range created {
		require.Equal(t, StatusReserved, c.Status)
	}
}

func TestCreateDemandLineValidates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateDemandLine(ctx, DemandLine{ItemID: 0, OrderedQuantity: decimal.RequireFromString("5")})
	require.Error(t, err)

	_, err = svc.CreateDemandLine(ctx, DemandLine{ItemID: 1, OrderedQuantity: decimal.Zero})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)

	line, err := svc.CreateDemandLine(ctx, DemandLine{
		ItemID:            1,
		ReferenceDocument: "sales_order",
		ReferenceNumber:   "SO-1",
		OrderedQuantity:   decimal.RequireFromString("5"),
	})
	require.NoError(t, err)
	require.NotZero(t, line.ID)
}
