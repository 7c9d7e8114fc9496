package ledger

import (
	"time"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementIn represents a receipt into a warehouse.
	MovementIn MovementType = "IN"
	// MovementOut represents an issue out of a warehouse.
	MovementOut MovementType = "OUT"
)

// Valid reports whether the movement type is one of the closed set.
func (t MovementType) Valid() bool {
	return t == MovementIn || t == MovementOut
}

// StockLevel is the current quantity of one material held in one warehouse.
// At most one row exists per (material, warehouse) pair.
type StockLevel struct {
	ID           int64     `json:"id"`
	MaterialID   int64     `json:"material_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	CurrentStock int64     `json:"current_stock"`
	SafetyStock  int64     `json:"safety_stock"`
	UnitPrice    *float64  `json:"unit_price"`
	LastUpdated  time.Time `json:"last_updated"`
}

// IsLowStock reports whether the balance sits at or below the reorder threshold.
func (s StockLevel) IsLowStock() bool {
	return s.CurrentStock <= s.SafetyStock
}

// IsOutOfStock reports whether the balance is exhausted.
func (s StockLevel) IsOutOfStock() bool {
	return s.CurrentStock == 0
}

// StockValue returns the balance valued at the last known unit price.
func (s StockLevel) StockValue() float64 {
	if s.UnitPrice == nil {
		return 0
	}
	return float64(s.CurrentStock) * *s.UnitPrice
}

// Shortage returns how far the balance is below safety stock, never negative.
func (s StockLevel) Shortage() int64 {
	if short := s.SafetyStock - s.CurrentStock; short > 0 {
		return short
	}
	return 0
}

// Movement is an immutable record of one inventory movement. Rows are
// created by RecordMovement and never updated or deleted afterwards.
type Movement struct {
	ID          int64        `json:"id"`
	Type        MovementType `json:"type"`
	MaterialID  int64        `json:"material_id"`
	WarehouseID int64        `json:"warehouse_id"`
	Quantity    int64        `json:"quantity"`
	UnitPrice   *float64     `json:"unit_price"`
	TotalPrice  *float64     `json:"total_price"`
	SupplierID  *int64       `json:"supplier_id"`
	ProjectID   *int64       `json:"project_id"`
	UserID      int64        `json:"user_id"`
	Notes       string       `json:"notes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MovementInput describes a request to record one movement.
type MovementInput struct {
	Type        MovementType
	MaterialID  int64
	WarehouseID int64
	Quantity    int64
	UnitPrice   *float64
	SupplierID  *int64
	ProjectID   *int64
	Notes       string
	ActorID     int64
	Reference   string
}

// RegisterStockInput seeds an initial balance without fabricating history.
type RegisterStockInput struct {
	MaterialID   int64
	WarehouseID  int64
	CurrentStock int64
	SafetyStock  int64
	UnitPrice    *float64
	ActorID      int64
}

// AdjustStockInput overwrites StockLevel fields directly. Nil fields are
// left untouched. This path records no Movement.
type AdjustStockInput struct {
	CurrentStock *int64
	SafetyStock  *int64
	UnitPrice    *float64
	ActorID      int64
}

// StockFilter filters stock level listings.
type StockFilter struct {
	MaterialID  *int64
	WarehouseID *int64
	LowOnly     bool
	Search      string
	SortBy      string
	SortDir     string
	Page        int
	PerPage     int
}

// MovementFilter filters movement listings.
type MovementFilter struct {
	MaterialID  *int64
	WarehouseID *int64
	SupplierID  *int64
	ProjectID   *int64
	Type        *MovementType
	From        time.Time
	To          time.Time
	Search      string
	Page        int
	PerPage     int
}

// GroupBy enumerates report groupings.
type GroupBy string

const (
	GroupByDay       GroupBy = "day"
	GroupByWeek      GroupBy = "week"
	GroupByMonth     GroupBy = "month"
	GroupByMaterial  GroupBy = "material"
	GroupByWarehouse GroupBy = "warehouse"
	GroupBySupplier  GroupBy = "supplier"
	GroupByProject   GroupBy = "project"
)

// Valid reports whether the grouping is supported.
func (g GroupBy) Valid() bool {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth, GroupByMaterial, GroupByWarehouse, GroupBySupplier, GroupByProject:
		return true
	}
	return false
}

// DateBucketed reports whether the grouping produces date buckets, which
// are returned sorted ascending by bucket key.
func (g GroupBy) DateBucketed() bool {
	return g == GroupByDay || g == GroupByWeek || g == GroupByMonth
}

// ReportFilter selects and groups movements for aggregation.
type ReportFilter struct {
	GroupBy     GroupBy
	From        time.Time
	To          time.Time
	MaterialID  *int64
	WarehouseID *int64
}

// ReportRow is one aggregated bucket. EntityID is zero for date buckets.
type ReportRow struct {
	Key         string  `json:"key"`
	EntityID    int64   `json:"entity_id,omitempty"`
	InQuantity  int64   `json:"in_quantity"`
	OutQuantity int64   `json:"out_quantity"`
	InValue     float64 `json:"in_value"`
	OutValue    float64 `json:"out_value"`
	NetQuantity int64   `json:"net_quantity"`
	NetValue    float64 `json:"net_value"`
}
