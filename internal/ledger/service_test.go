package ledger

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
	_ "github.com/sitewise-erp/sitewise/testing"
)

type memoryRepo struct {
	mu          sync.Mutex
	materials   map[int64]bool
	warehouses  map[int64]bool
	stocks      map[int64]StockLevel
	movements   []Movement
	nextStockID int64
	nextMoveID  int64

	failStockUpdate bool
	reportCalls     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		materials:  map[int64]bool{1: true, 2: true},
		warehouses: map[int64]bool{1: true, 2: true},
		stocks:     map[int64]StockLevel{},
	}
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx serialises callers the way the row lock does in PostgreSQL and
// rolls all writes back when the callback fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stockSnapshot := make(map[int64]StockLevel, len(r.stocks))
	for id, s := range r.stocks {
		stockSnapshot[id] = s
	}
	moveLen := len(r.movements)
	nextStock, nextMove := r.nextStockID, r.nextMoveID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.stocks = stockSnapshot
		r.movements = r.movements[:moveLen]
		r.nextStockID, r.nextMoveID = nextStock, nextMove
		return err
	}
	return nil
}

func (tx *memoryTx) MaterialExists(ctx context.Context, id int64) (bool, error) {
	return tx.repo.materials[id], nil
}

func (tx *memoryTx) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return tx.repo.warehouses[id], nil
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, materialID, warehouseID int64) (StockLevel, error) {
	for _, s := range tx.repo.stocks {
		if s.MaterialID == materialID && s.WarehouseID == warehouseID {
			return s, nil
		}
	}
	return StockLevel{}, ErrStockNotFound
}

func (tx *memoryTx) GetStockByIDForUpdate(ctx context.Context, id int64) (StockLevel, error) {
	if s, ok := tx.repo.stocks[id]; ok {
		return s, nil
	}
	return StockLevel{}, ErrStockNotFound
}

func (tx *memoryTx) InsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	for _, s := range tx.repo.stocks {
		if s.MaterialID == level.MaterialID && s.WarehouseID == level.WarehouseID {
			return StockLevel{}, shared.ErrConflict
		}
	}
	tx.repo.nextStockID++
	level.ID = tx.repo.nextStockID
	tx.repo.stocks[level.ID] = level
	return level, nil
}

func (tx *memoryTx) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	if tx.repo.failStockUpdate {
		return errors.New("simulated stock write failure")
	}
	tx.repo.stocks[level.ID] = level
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	tx.repo.nextMoveID++
	mv.ID = tx.repo.nextMoveID
	tx.repo.movements = append(tx.repo.movements, mv)
	return mv, nil
}

func (r *memoryRepo) GetStock(ctx context.Context, id int64) (StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stocks[id]; ok {
		return s, nil
	}
	return StockLevel{}, shared.ErrNotFound
}

func (r *memoryRepo) ListStock(ctx context.Context, filter StockFilter) ([]StockLevel, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockLevel
	for _, s := range r.stocks {
		if filter.LowOnly && !s.IsLowStock() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Movement, len(r.movements))
	copy(out, r.movements)
	return out, len(out), nil
}

func (r *memoryRepo) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportCalls++

	buckets := map[string]*ReportRow{}
	for _, mv := range r.movements {
		var key string
		var entityID int64
		switch filter.GroupBy {
		case GroupByMaterial:
			key = strconv.FormatInt(mv.MaterialID, 10)
			entityID = mv.MaterialID
		case GroupByWarehouse:
			key = strconv.FormatInt(mv.WarehouseID, 10)
			entityID = mv.WarehouseID
		default:
			key = mv.CreatedAt.Format("2006-01-02")
		}
		row, ok := buckets[key]
		if !ok {
			row = &ReportRow{Key: key, EntityID: entityID}
			buckets[key] = row
		}
		value := 0.0
		if mv.TotalPrice != nil {
			value = *mv.TotalPrice
		}
		if mv.Type == MovementIn {
			row.InQuantity += mv.Quantity
			row.InValue += value
		} else {
			row.OutQuantity += mv.Quantity
			row.OutValue += value
		}
	}
	var rows []ReportRow
	for _, row := range buckets {
		row.NetQuantity = row.InQuantity - row.OutQuantity
		row.NetValue = row.InValue - row.OutValue
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

func (r *memoryRepo) DeleteStock(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stocks[id]
	if !ok {
		return shared.ErrNotFound
	}
	for _, mv := range r.movements {
		if mv.MaterialID == s.MaterialID && mv.WarehouseID == s.WarehouseID {
			return shared.ErrDependentRecords
		}
	}
	delete(r.stocks, id)
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *memoryAudit) last() shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(n int64) *int64       { return &n }

func TestRecordMovementInThenOut(t *testing.T) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil, nil, nil)
	ctx := context.Background()

	mv, level, err := svc.RecordMovement(ctx, MovementInput{
		Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 10,
		UnitPrice: floatPtr(5), SupplierID: intPtr(3), ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), level.CurrentStock)
	require.Equal(t, MovementIn, mv.Type)
	require.NotNil(t, mv.TotalPrice)
	require.InDelta(t, 50.0, *mv.TotalPrice, 0.001)
	require.Equal(t, intPtr(3), mv.SupplierID)
	require.Nil(t, mv.ProjectID)

	_, level, err = svc.RecordMovement(ctx, MovementInput{
		Type: MovementOut, MaterialID: 1, WarehouseID: 1, Quantity: 4,
		ProjectID: intPtr(9), ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(6), level.CurrentStock)

	rows, err := svc.Report(ctx, ReportFilter{GroupBy: GroupByMaterial})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(10), rows[0].InQuantity)
	require.Equal(t, int64(4), rows[0].OutQuantity)
	require.Equal(t, int64(6), rows[0].NetQuantity)

	require.Equal(t, []string{"stock:IN", "stock:OUT"}, audit.actions())
}

func TestRecordMovementOverdrawRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: 3, ActorID: 7})
	require.NoError(t, err)

	_, _, err = svc.RecordMovement(ctx, MovementInput{Type: MovementOut, MaterialID: 1, WarehouseID: 1, Quantity: 5, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	levels, _, err := repo.ListStock(ctx, StockFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, int64(3), levels[0].CurrentStock)
	require.Empty(t, repo.movements)
}

func TestRecordMovementOutWithoutStock(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)

	_, _, err := svc.RecordMovement(context.Background(), MovementInput{Type: MovementOut, MaterialID: 1, WarehouseID: 1, Quantity: 1, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestRecordMovementValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()

	cases := []MovementInput{
		{Type: "TRANSFER", MaterialID: 1, WarehouseID: 1, Quantity: 1, ActorID: 7},
		{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 0, ActorID: 7},
		{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: -2, ActorID: 7},
		{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 1},
		{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 1, ActorID: 7, UnitPrice: floatPtr(-1)},
	}
	for _, input := range cases {
		_, _, err := svc.RecordMovement(ctx, input)
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	}
}

func TestRecordMovementUnknownReferences(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, MovementInput{Type: MovementIn, MaterialID: 99, WarehouseID: 1, Quantity: 1, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, _, err = svc.RecordMovement(ctx, MovementInput{Type: MovementIn, MaterialID: 1, WarehouseID: 99, Quantity: 1, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLedgerConsistencyInvariant(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	initial := int64(50)
	_, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: initial, ActorID: 7})
	require.NoError(t, err)

	quantities := []struct {
		t MovementType
		q int64
	}{
		{MovementIn, 20}, {MovementOut, 15}, {MovementIn, 5}, {MovementOut, 30}, {MovementIn, 1},
	}
	for _, m := range quantities {
		_, _, err := svc.RecordMovement(ctx, MovementInput{Type: m.t, MaterialID: 1, WarehouseID: 1, Quantity: m.q, ActorID: 7})
		require.NoError(t, err)
	}

	var signed int64
	for _, mv := range repo.movements {
		if mv.Type == MovementIn {
			signed += mv.Quantity
		} else {
			signed -= mv.Quantity
		}
	}
	levels, _, err := repo.ListStock(ctx, StockFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, initial+signed, levels[0].CurrentStock)
}

func TestRegisterInitialStockConflict(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: 10, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: 20, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAdjustStockBypassesLedger(t *testing.T) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil, nil, nil)
	ctx := context.Background()

	level, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: 10, SafetyStock: 2, ActorID: 7})
	require.NoError(t, err)

	adjusted, err := svc.AdjustStock(ctx, level.ID, AdjustStockInput{CurrentStock: intPtr(100), ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, int64(100), adjusted.CurrentStock)
	require.Empty(t, repo.movements)

	actions := audit.actions()
	require.Contains(t, actions, "stock:ADJUST")
	last := audit.last()
	require.Equal(t, int64(10), last.Meta["stock_before"])
	require.Equal(t, int64(100), last.Meta["stock_after"])
}

func TestAdjustStockNotFound(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)

	_, err := svc.AdjustStock(context.Background(), 42, AdjustStockInput{CurrentStock: intPtr(1), ActorID: 7})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDerivedReads(t *testing.T) {
	level := StockLevel{CurrentStock: 2, SafetyStock: 5, UnitPrice: floatPtr(3)}
	require.True(t, level.IsLowStock())
	require.False(t, level.IsOutOfStock())
	require.Equal(t, int64(3), level.Shortage())
	require.InDelta(t, 6.0, level.StockValue(), 0.001)

	empty := StockLevel{CurrentStock: 0, SafetyStock: 0}
	require.True(t, empty.IsOutOfStock())
	require.True(t, empty.IsLowStock())
	require.Zero(t, empty.Shortage())
	require.Zero(t, empty.StockValue())

	// Pure reads: repeated calls without writes agree.
	require.Equal(t, level.StockValue(), level.StockValue())
	require.Equal(t, level.Shortage(), level.Shortage())
}

func TestAtomicityUnderStockWriteFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: 10, ActorID: 7})
	require.NoError(t, err)

	repo.failStockUpdate = true
	_, _, err = svc.RecordMovement(ctx, MovementInput{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 5, ActorID: 7})
	require.Error(t, err)

	// Neither the movement nor the balance change persisted.
	require.Empty(t, repo.movements)
	levels, _, err := repo.ListStock(ctx, StockFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(10), levels[0].CurrentStock)
}

func TestConcurrentOutRace(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	const quantity = int64(8)
	_, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 1, WarehouseID: 1, CurrentStock: quantity, ActorID: 7})
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordMovement(ctx, MovementInput{Type: MovementOut, MaterialID: 1, WarehouseID: 1, Quantity: quantity, ActorID: 7})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			rejected++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)

	levels, _, err := repo.ListStock(ctx, StockFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(0), levels[0].CurrentStock)
}

func TestDeleteStockBlockedByMovements(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, level, err := svc.RecordMovement(ctx, MovementInput{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 5, ActorID: 7})
	require.NoError(t, err)

	err = svc.DeleteStock(ctx, level.ID, 7)
	require.ErrorIs(t, err, shared.ErrDependentRecords)

	// A freshly registered pair with no history can be removed.
	fresh, err := svc.RegisterInitialStock(ctx, RegisterStockInput{MaterialID: 2, WarehouseID: 2, CurrentStock: 0, ActorID: 7})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteStock(ctx, fresh.ID, 7))
}

func TestReportCacheBumpOnMovement(t *testing.T) {
	repo := newMemoryRepo()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cache := NewCache(client, time.Minute)
	svc := NewService(repo, nil, nil, cache, nil)
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, MovementInput{Type: MovementIn, MaterialID: 1, WarehouseID: 1, Quantity: 10, ActorID: 7})
	require.NoError(t, err)

	filter := ReportFilter{GroupBy: GroupByMaterial}
	rows, err := svc.Report(ctx, filter)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, repo.reportCalls)

	// Served from cache.
	_, err = svc.Report(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, 1, repo.reportCalls)

	// A new movement bumps the version and forces a rebuild.
	_, _, err = svc.RecordMovement(ctx, MovementInput{Type: MovementOut, MaterialID: 1, WarehouseID: 1, Quantity: 3, ActorID: 7})
	require.NoError(t, err)

	rows, err = svc.Report(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, 2, repo.reportCalls)
	require.Equal(t, int64(7), rows[0].NetQuantity)
}

func TestReportRejectsUnknownGrouping(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)

	_, err := svc.Report(context.Background(), ReportFilter{GroupBy: "quarter"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}
