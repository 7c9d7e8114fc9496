package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/sitewise-erp/sitewise/internal/jobs"
)

// LowStockScanJob reports stock levels at or below their safety threshold.
// It is strictly read-side: it never writes to the ledger, only logs and
// updates metrics for alerting to pick up.
type LowStockScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock scan handler.
func NewLowStockScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

type lowStockRow struct {
	StockLevelID int64
	MaterialID   int64
	MaterialName string
	WarehouseID  int64
	Warehouse    string
	Current      int64
	Safety       int64
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("lowstock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting low-stock scan")

	rows, err := j.scan(ctx, payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("low-stock scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, row := range rows {
		logger.Warn("low stock",
			slog.Int64("stock_level_id", row.StockLevelID),
			slog.Int64("material_id", row.MaterialID),
			slog.String("material", row.MaterialName),
			slog.Int64("warehouse_id", row.WarehouseID),
			slog.String("warehouse", row.Warehouse),
			slog.Int64("current_stock", row.Current),
			slog.Int64("safety_stock", row.Safety),
			slog.Int64("shortage", row.Safety-row.Current),
		)
	}
	j.metrics().SetLowStock(len(rows))

	logger.Info("completed low-stock scan",
		slog.Int("low_stock_levels", len(rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LowStockScanJob) scan(ctx context.Context, limit int) ([]lowStockRow, error) {
	if j.Pool == nil {
		return nil, errors.New("lowstock scan: pool not configured")
	}
	query := `SELECT sl.id, sl.material_id, m.name, sl.warehouse_id, w.name, sl.current_stock, sl.safety_stock
		FROM stock_levels sl
		JOIN materials m ON m.id = sl.material_id
		JOIN warehouses w ON w.id = sl.warehouse_id
		WHERE sl.current_stock <= sl.safety_stock
		ORDER BY sl.safety_stock - sl.current_stock DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lowStockRow
	for rows.Next() {
		var row lowStockRow
		if err := rows.Scan(&row.StockLevelID, &row.MaterialID, &row.MaterialName, &row.WarehouseID, &row.Warehouse, &row.Current, &row.Safety); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
