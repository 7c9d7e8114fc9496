package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// ErrStockNotFound indicates a missing stock level row.
var ErrStockNotFound = errors.New("ledger: stock level not found")

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const stockColumns = `id, material_id, warehouse_id, current_stock, safety_stock, unit_price, last_updated`

func scanStock(row pgx.Row) (StockLevel, error) {
	var s StockLevel
	err := row.Scan(&s.ID, &s.MaterialID, &s.WarehouseID, &s.CurrentStock, &s.SafetyStock, &s.UnitPrice, &s.LastUpdated)
	return s, err
}

func (r *txRepo) MaterialExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM materials WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// GetStockForUpdate locks the stock level row for the rest of the
// transaction, serialising concurrent movements on the same pair.
func (r *txRepo) GetStockForUpdate(ctx context.Context, materialID, warehouseID int64) (StockLevel, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_levels WHERE material_id = $1 AND warehouse_id = $2 FOR UPDATE`, materialID, warehouseID)
	s, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, ErrStockNotFound
	}
	return s, err
}

func (r *txRepo) GetStockByIDForUpdate(ctx context.Context, id int64) (StockLevel, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_levels WHERE id = $1 FOR UPDATE`, id)
	s, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, ErrStockNotFound
	}
	return s, err
}

func (r *txRepo) InsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_levels (material_id, warehouse_id, current_stock, safety_stock, unit_price, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		level.MaterialID, level.WarehouseID, level.CurrentStock, level.SafetyStock, level.UnitPrice, level.LastUpdated,
	).Scan(&level.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return StockLevel{}, fmt.Errorf("%w: stock level already registered for material %d in warehouse %d", shared.ErrConflict, level.MaterialID, level.WarehouseID)
		}
		return StockLevel{}, err
	}
	return level, nil
}

func (r *txRepo) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE stock_levels SET current_stock = $1, safety_stock = $2, unit_price = $3, last_updated = $4 WHERE id = $5`,
		level.CurrentStock, level.SafetyStock, level.UnitPrice, level.LastUpdated, level.ID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// Backstop: the non-negative CHECK fires only if the service guard
		// was bypassed.
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("%w: balance would go negative", shared.ErrInsufficientStock)
		}
		return err
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (movement_type, material_id, warehouse_id, quantity, unit_price, total_price, supplier_id, project_id, user_id, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		string(mv.Type), mv.MaterialID, mv.WarehouseID, mv.Quantity, mv.UnitPrice, mv.TotalPrice, mv.SupplierID, mv.ProjectID, mv.UserID, mv.Notes, mv.CreatedAt,
	).Scan(&mv.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Movement{}, fmt.Errorf("%w: referenced entity", shared.ErrNotFound)
		}
		return Movement{}, err
	}
	return mv, nil
}

// GetStock fetches one stock level by id.
func (r *Repository) GetStock(ctx context.Context, id int64) (StockLevel, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_levels WHERE id = $1`, id)
	s, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, fmt.Errorf("%w: stock level %d", shared.ErrNotFound, id)
	}
	return s, err
}

// ListStock lists stock levels using dynamic filters.
func (r *Repository) ListStock(ctx context.Context, filter StockFilter) ([]StockLevel, int, error) {
	where := ` FROM stock_levels s JOIN materials m ON m.id = s.material_id WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.MaterialID != nil {
		argCount++
		where += ` AND s.material_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.MaterialID)
	}
	if filter.WarehouseID != nil {
		argCount++
		where += ` AND s.warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.WarehouseID)
	}
	if filter.LowOnly {
		where += ` AND s.current_stock <= s.safety_stock`
	}
	if filter.Search != "" {
		argCount++
		where += ` AND (m.name ILIKE $` + strconv.Itoa(argCount) + ` OR m.sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT s.id, s.material_id, s.warehouse_id, s.current_stock, s.safety_stock, s.unit_price, s.last_updated` + where
	query += ` ORDER BY ` + stockSortOrder(filter.SortBy, filter.SortDir)

	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filter.PerPage)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, 0, err
		}
		levels = append(levels, s)
	}
	return levels, total, rows.Err()
}

// ListMovements lists movement history using dynamic filters.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	where := ` FROM stock_movements t JOIN materials m ON m.id = t.material_id WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	addInt := func(column string, value *int64) {
		if value == nil {
			return
		}
		argCount++
		where += ` AND ` + column + ` = $` + strconv.Itoa(argCount)
		args = append(args, *value)
	}
	addInt("t.material_id", filter.MaterialID)
	addInt("t.warehouse_id", filter.WarehouseID)
	addInt("t.supplier_id", filter.SupplierID)
	addInt("t.project_id", filter.ProjectID)

	if filter.Type != nil {
		argCount++
		where += ` AND t.movement_type = $` + strconv.Itoa(argCount)
		args = append(args, string(*filter.Type))
	}
	if !filter.From.IsZero() {
		argCount++
		where += ` AND t.created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		where += ` AND t.created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}
	if filter.Search != "" {
		argCount++
		where += ` AND (t.notes ILIKE $` + strconv.Itoa(argCount) + ` OR m.name ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT t.id, t.movement_type, t.material_id, t.warehouse_id, t.quantity, t.unit_price, t.total_price, t.supplier_id, t.project_id, t.user_id, t.notes, t.created_at` + where
	query += ` ORDER BY t.created_at DESC, t.id DESC`

	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filter.PerPage)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var mv Movement
		var movementType string
		if err := rows.Scan(&mv.ID, &movementType, &mv.MaterialID, &mv.WarehouseID, &mv.Quantity, &mv.UnitPrice, &mv.TotalPrice, &mv.SupplierID, &mv.ProjectID, &mv.UserID, &mv.Notes, &mv.CreatedAt); err != nil {
			return nil, 0, err
		}
		mv.Type = MovementType(movementType)
		movements = append(movements, mv)
	}
	return movements, total, rows.Err()
}

// Report aggregates movements by the requested grouping.
func (r *Repository) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	keyExpr, entityExpr, extraWhere, orderBy, err := groupingSQL(filter.GroupBy)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + keyExpr + ` AS bucket, ` + entityExpr + ` AS entity_id,
		COALESCE(SUM(CASE WHEN movement_type = 'IN' THEN quantity ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN movement_type = 'OUT' THEN quantity ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN movement_type = 'IN' THEN total_price ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN movement_type = 'OUT' THEN total_price ELSE 0 END), 0)
		FROM stock_movements WHERE 1=1` + extraWhere
	args := []interface{}{}
	argCount := 0

	if !filter.From.IsZero() {
		argCount++
		query += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		query += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}
	if filter.MaterialID != nil {
		argCount++
		query += ` AND material_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.MaterialID)
	}
	if filter.WarehouseID != nil {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.WarehouseID)
	}

	query += ` GROUP BY bucket, entity_id` + orderBy

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []ReportRow
	for rows.Next() {
		var row ReportRow
		if err := rows.Scan(&row.Key, &row.EntityID, &row.InQuantity, &row.OutQuantity, &row.InValue, &row.OutValue); err != nil {
			return nil, err
		}
		row.NetQuantity = row.InQuantity - row.OutQuantity
		row.NetValue = row.InValue - row.OutValue
		report = append(report, row)
	}
	return report, rows.Err()
}

// DeleteStock removes a stock level unless movements still reference the
// (material, warehouse) pair.
func (r *Repository) DeleteStock(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	repo := &txRepo{tx: tx}
	level, err := repo.GetStockByIDForUpdate(ctx, id)
	if errors.Is(err, ErrStockNotFound) {
		return fmt.Errorf("%w: stock level %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	var referenced bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE material_id = $1 AND warehouse_id = $2)`, level.MaterialID, level.WarehouseID).Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: movements recorded for material %d in warehouse %d", shared.ErrDependentRecords, level.MaterialID, level.WarehouseID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stock_levels WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func groupingSQL(g GroupBy) (keyExpr, entityExpr, extraWhere, orderBy string, err error) {
	switch g {
	case GroupByDay:
		return `to_char(date_trunc('day', created_at), 'YYYY-MM-DD')`, `0`, ``, ` ORDER BY bucket ASC`, nil
	case GroupByWeek:
		return `to_char(date_trunc('week', created_at), 'IYYY-"W"IW')`, `0`, ``, ` ORDER BY bucket ASC`, nil
	case GroupByMonth:
		return `to_char(date_trunc('month', created_at), 'YYYY-MM')`, `0`, ``, ` ORDER BY bucket ASC`, nil
	case GroupByMaterial:
		return `material_id::text`, `material_id`, ``, ``, nil
	case GroupByWarehouse:
		return `warehouse_id::text`, `warehouse_id`, ``, ``, nil
	case GroupBySupplier:
		return `supplier_id::text`, `supplier_id`, ` AND supplier_id IS NOT NULL`, ``, nil
	case GroupByProject:
		return `project_id::text`, `project_id`, ` AND project_id IS NOT NULL`, ``, nil
	default:
		return "", "", "", "", fmt.Errorf("%w: unsupported grouping %q", shared.ErrInvalidArgument, g)
	}
}

func stockSortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "current_stock":
		return "s.current_stock " + dir
	case "last_updated":
		return "s.last_updated " + dir
	case "material":
		return "m.name " + dir
	default:
		return "s.last_updated DESC"
	}
}
