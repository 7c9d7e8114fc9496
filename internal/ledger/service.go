package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, id int64) (StockLevel, error)
	ListStock(ctx context.Context, filter StockFilter) ([]StockLevel, int, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error)
	DeleteStock(ctx context.Context, id int64) error
}

// TxRepository exposes the transactional operations used while posting
// movements. GetStockForUpdate must lock the row so the balance check and
// the subsequent write are atomic against concurrent callers.
type TxRepository interface {
	MaterialExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
	GetStockForUpdate(ctx context.Context, materialID, warehouseID int64) (StockLevel, error)
	GetStockByIDForUpdate(ctx context.Context, id int64) (StockLevel, error)
	InsertStockLevel(ctx context.Context, level StockLevel) (StockLevel, error)
	UpdateStockLevel(ctx context.Context, level StockLevel) error
	InsertMovement(ctx context.Context, mv Movement) (Movement, error)
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	MovementRecorded(movementType string)
	InsufficientStockRejected()
}

// Service coordinates ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	idempotency *shared.IdempotencyStore
	cache       *Cache
	metrics     MetricsPort
	reports     singleflight.Group
	clock       func() time.Time
}

// NewService builds Service. Audit, idempotency, cache and metrics are
// optional; a nil value disables the corresponding behaviour.
func NewService(repo RepositoryPort, audit shared.AuditPort, idem *shared.IdempotencyStore, cache *Cache, metrics MetricsPort) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		metrics:     metrics,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordMovement posts one IN or OUT movement and applies it to the stock
// level inside a single database transaction. Either both the movement row
// and the balance update persist, or neither does.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, StockLevel, error) {
	if !input.Type.Valid() {
		return Movement{}, StockLevel{}, fmt.Errorf("%w: movement type must be IN or OUT", shared.ErrInvalidArgument)
	}
	if input.MaterialID <= 0 || input.WarehouseID <= 0 {
		return Movement{}, StockLevel{}, fmt.Errorf("%w: material and warehouse required", shared.ErrInvalidArgument)
	}
	if input.Quantity <= 0 {
		return Movement{}, StockLevel{}, fmt.Errorf("%w: quantity must be a positive integer", shared.ErrInvalidArgument)
	}
	if input.ActorID <= 0 {
		return Movement{}, StockLevel{}, fmt.Errorf("%w: actor required", shared.ErrInvalidArgument)
	}
	if input.UnitPrice != nil && *input.UnitPrice < 0 {
		return Movement{}, StockLevel{}, fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidArgument)
	}

	now := s.now()
	var key string
	insertedKey := false
	if input.Reference != "" && s.idempotency != nil {
		key = fmt.Sprintf("movement:%s", input.Reference)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Movement{}, StockLevel{}, fmt.Errorf("%w: movement reference already processed", shared.ErrConflict)
			}
			return Movement{}, StockLevel{}, err
		}
		insertedKey = true
	}

	var mv Movement
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkReferences(ctx, tx, input.MaterialID, input.WarehouseID); err != nil {
			return err
		}
		var err error
		level, err = tx.GetStockForUpdate(ctx, input.MaterialID, input.WarehouseID)
		switch {
		case errors.Is(err, ErrStockNotFound):
			if input.Type == MovementOut {
				return fmt.Errorf("%w: no stock registered for material %d in warehouse %d", shared.ErrInsufficientStock, input.MaterialID, input.WarehouseID)
			}
			level, err = tx.InsertStockLevel(ctx, StockLevel{
				MaterialID:  input.MaterialID,
				WarehouseID: input.WarehouseID,
				LastUpdated: now,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if input.Type == MovementOut && level.CurrentStock < input.Quantity {
			return fmt.Errorf("%w: requested %d, available %d", shared.ErrInsufficientStock, input.Quantity, level.CurrentStock)
		}

		mv = Movement{
			Type:        input.Type,
			MaterialID:  input.MaterialID,
			WarehouseID: input.WarehouseID,
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			UserID:      input.ActorID,
			Notes:       input.Notes,
			CreatedAt:   now,
		}
		if input.UnitPrice != nil {
			total := *input.UnitPrice * float64(input.Quantity)
			mv.TotalPrice = &total
		}
		// Supplier attribution only makes sense on receipts, project
		// attribution only on issues.
		if input.Type == MovementIn {
			mv.SupplierID = input.SupplierID
		} else {
			mv.ProjectID = input.ProjectID
		}
		mv, err = tx.InsertMovement(ctx, mv)
		if err != nil {
			return err
		}

		if input.Type == MovementIn {
			level.CurrentStock += input.Quantity
		} else {
			level.CurrentStock -= input.Quantity
		}
		if input.UnitPrice != nil {
			level.UnitPrice = input.UnitPrice
		}
		level.LastUpdated = now
		return tx.UpdateStockLevel(ctx, level)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		if errors.Is(err, shared.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStockRejected()
		}
		return Movement{}, StockLevel{}, err
	}

	if s.metrics != nil {
		s.metrics.MovementRecorded(string(input.Type))
	}
	s.recordAudit(ctx, input.ActorID, "stock:"+string(input.Type), "stock_movement", strconv.FormatInt(mv.ID, 10), map[string]any{
		"material_id":  input.MaterialID,
		"warehouse_id": input.WarehouseID,
		"quantity":     input.Quantity,
		"balance":      level.CurrentStock,
		"notes":        input.Notes,
	})
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
	return mv, level, nil
}

// RegisterInitialStock creates the StockLevel row for a pair directly, with
// no movement recorded. A duplicate pair fails with a conflict mapped from
// the unique constraint rather than a lookup-then-create check.
func (s *Service) RegisterInitialStock(ctx context.Context, input RegisterStockInput) (StockLevel, error) {
	if input.MaterialID <= 0 || input.WarehouseID <= 0 {
		return StockLevel{}, fmt.Errorf("%w: material and warehouse required", shared.ErrInvalidArgument)
	}
	if input.CurrentStock < 0 || input.SafetyStock < 0 {
		return StockLevel{}, fmt.Errorf("%w: stock quantities must be >= 0", shared.ErrInvalidArgument)
	}
	if input.UnitPrice != nil && *input.UnitPrice < 0 {
		return StockLevel{}, fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidArgument)
	}

	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkReferences(ctx, tx, input.MaterialID, input.WarehouseID); err != nil {
			return err
		}
		var err error
		level, err = tx.InsertStockLevel(ctx, StockLevel{
			MaterialID:   input.MaterialID,
			WarehouseID:  input.WarehouseID,
			CurrentStock: input.CurrentStock,
			SafetyStock:  input.SafetyStock,
			UnitPrice:    input.UnitPrice,
			LastUpdated:  s.now(),
		})
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}

	s.recordAudit(ctx, input.ActorID, "stock:REGISTER", "stock_level", strconv.FormatInt(level.ID, 10), map[string]any{
		"material_id":   input.MaterialID,
		"warehouse_id":  input.WarehouseID,
		"current_stock": input.CurrentStock,
		"safety_stock":  input.SafetyStock,
	})
	return level, nil
}

// AdjustStock overwrites StockLevel fields directly, e.g. after a physical
// recount. No movement is recorded; the audit trail tags the change as
// "stock:ADJUST" so it stays distinguishable from transaction-driven
// mutations.
func (s *Service) AdjustStock(ctx context.Context, id int64, input AdjustStockInput) (StockLevel, error) {
	if id <= 0 {
		return StockLevel{}, fmt.Errorf("%w: stock level id required", shared.ErrInvalidArgument)
	}
	if input.CurrentStock != nil && *input.CurrentStock < 0 {
		return StockLevel{}, fmt.Errorf("%w: current stock must be >= 0", shared.ErrInvalidArgument)
	}
	if input.SafetyStock != nil && *input.SafetyStock < 0 {
		return StockLevel{}, fmt.Errorf("%w: safety stock must be >= 0", shared.ErrInvalidArgument)
	}
	if input.UnitPrice != nil && *input.UnitPrice < 0 {
		return StockLevel{}, fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidArgument)
	}

	var before, after StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := tx.GetStockByIDForUpdate(ctx, id)
		if errors.Is(err, ErrStockNotFound) {
			return fmt.Errorf("%w: stock level %d", shared.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		before = level
		if input.CurrentStock != nil {
			level.CurrentStock = *input.CurrentStock
		}
		if input.SafetyStock != nil {
			level.SafetyStock = *input.SafetyStock
		}
		if input.UnitPrice != nil {
			level.UnitPrice = input.UnitPrice
		}
		level.LastUpdated = s.now()
		if err := tx.UpdateStockLevel(ctx, level); err != nil {
			return err
		}
		after = level
		return nil
	})
	if err != nil {
		return StockLevel{}, err
	}

	s.recordAudit(ctx, input.ActorID, "stock:ADJUST", "stock_level", strconv.FormatInt(id, 10), map[string]any{
		"material_id":  after.MaterialID,
		"warehouse_id": after.WarehouseID,
		"stock_before": before.CurrentStock,
		"stock_after":  after.CurrentStock,
	})
	return after, nil
}

// GetStock fetches one stock level by id.
func (s *Service) GetStock(ctx context.Context, id int64) (StockLevel, error) {
	if id <= 0 {
		return StockLevel{}, fmt.Errorf("%w: stock level id required", shared.ErrInvalidArgument)
	}
	return s.repo.GetStock(ctx, id)
}

// ListStock lists stock levels with filters and pagination.
func (s *Service) ListStock(ctx context.Context, filter StockFilter) ([]StockLevel, int, error) {
	normalizePage(&filter.Page, &filter.PerPage)
	return s.repo.ListStock(ctx, filter)
}

// ListMovements lists movement history with filters and pagination.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	normalizePage(&filter.Page, &filter.PerPage)
	return s.repo.ListMovements(ctx, filter)
}

// DeleteStock removes a stock level. Deletion is blocked while movements
// still reference the (material, warehouse) pair.
func (s *Service) DeleteStock(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: stock level id required", shared.ErrInvalidArgument)
	}
	if err := s.repo.DeleteStock(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stock:DELETE", "stock_level", strconv.FormatInt(id, 10), nil)
	return nil
}

// Report aggregates committed movements by the requested grouping. Results
// are cached under a version key that RecordMovement bumps on every commit,
// and concurrent builds of the same report are collapsed.
func (s *Service) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	if !filter.GroupBy.Valid() {
		return nil, fmt.Errorf("%w: unsupported grouping %q", shared.ErrInvalidArgument, filter.GroupBy)
	}
	if s.cache == nil {
		return s.repo.Report(ctx, filter)
	}
	key, err := s.cache.BuildKey(ctx, "ledger", "report", reportKeyParts(filter)...)
	if err != nil {
		return s.repo.Report(ctx, filter)
	}
	value, err, _ := s.reports.Do(key, func() (any, error) {
		var rows []ReportRow
		err := s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (any, error) {
			return s.repo.Report(ctx, filter)
		})
		return rows, err
	})
	if err != nil {
		return nil, err
	}
	rows, _ := value.([]ReportRow)
	return rows, nil
}

func reportKeyParts(filter ReportFilter) []string {
	parts := []string{string(filter.GroupBy)}
	if !filter.From.IsZero() {
		parts = append(parts, "from", filter.From.Format("2006-01-02"))
	}
	if !filter.To.IsZero() {
		parts = append(parts, "to", filter.To.Format("2006-01-02"))
	}
	if filter.MaterialID != nil {
		parts = append(parts, "m", strconv.FormatInt(*filter.MaterialID, 10))
	}
	if filter.WarehouseID != nil {
		parts = append(parts, "w", strconv.FormatInt(*filter.WarehouseID, 10))
	}
	return parts
}

func checkReferences(ctx context.Context, tx TxRepository, materialID, warehouseID int64) error {
	ok, err := tx.MaterialExists(ctx, materialID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: material %d", shared.ErrNotFound, materialID)
	}
	ok, err = tx.WarehouseExists(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: warehouse %d", shared.ErrNotFound, warehouseID)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func normalizePage(page, perPage *int) {
	if *page <= 0 {
		*page = 1
	}
	if *perPage <= 0 || *perPage > 200 {
		*perPage = 20
	}
}
