package ledger

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes. The identity middleware guarantees an
// authenticated caller; admin-only routes are additionally gated here.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/", h.handleListStock)
		r.Get("/{id}", h.handleGetStock)
		r.With(h.requireAdmin).Post("/", h.handleRegisterStock)
		r.With(h.requireAdmin).Put("/{id}", h.handleAdjustStock)
		r.With(h.requireAdmin).Delete("/{id}", h.handleDeleteStock)
	})
	r.Route("/movements", func(r chi.Router) {
		r.Get("/", h.handleListMovements)
		r.Post("/", h.handleRecordMovement)
		r.Get("/report", h.handleReport)
	})
}

type movementRequest struct {
	Type        string   `json:"type" validate:"required,oneof=IN OUT"`
	MaterialID  int64    `json:"material_id" validate:"required,gt=0"`
	WarehouseID int64    `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64    `json:"quantity" validate:"required,gt=0"`
	UnitPrice   *float64 `json:"unit_price" validate:"omitempty,gte=0"`
	SupplierID  *int64   `json:"supplier_id"`
	ProjectID   *int64   `json:"project_id"`
	Notes       string   `json:"notes"`
	Reference   string   `json:"reference"`
}

type movementResponse struct {
	Movement Movement      `json:"movement"`
	Stock    stockResponse `json:"stock"`
}

// stockResponse augments the stored fields with the derived reads, which
// are recomputed on every response and never stored.
type stockResponse struct {
	StockLevel
	IsLowStock   bool    `json:"is_low_stock"`
	IsOutOfStock bool    `json:"is_out_of_stock"`
	StockValue   float64 `json:"stock_value"`
	Shortage     int64   `json:"shortage"`
}

func newStockResponse(s StockLevel) stockResponse {
	return stockResponse{
		StockLevel:   s,
		IsLowStock:   s.IsLowStock(),
		IsOutOfStock: s.IsOutOfStock(),
		StockValue:   s.StockValue(),
		Shortage:     s.Shortage(),
	}
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", validationDetail(err))
		return
	}

	mv, level, err := h.service.RecordMovement(r.Context(), MovementInput{
		Type:        MovementType(req.Type),
		MaterialID:  req.MaterialID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		SupplierID:  req.SupplierID,
		ProjectID:   req.ProjectID,
		Notes:       req.Notes,
		Reference:   req.Reference,
		ActorID:     identity.UserID,
	})
	if err != nil {
		h.logger.Warn("record movement failed",
			slog.String("type", req.Type),
			slog.Int64("material_id", req.MaterialID),
			slog.Int64("warehouse_id", req.WarehouseID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("movement recorded",
		slog.Int64("movement_id", mv.ID),
		slog.String("type", string(mv.Type)),
		slog.Int64("balance", level.CurrentStock))
	httpx.JSON(w, http.StatusCreated, movementResponse{Movement: mv, Stock: newStockResponse(level)})
}

type registerStockRequest struct {
	MaterialID   int64    `json:"material_id" validate:"required,gt=0"`
	WarehouseID  int64    `json:"warehouse_id" validate:"required,gt=0"`
	CurrentStock int64    `json:"current_stock" validate:"gte=0"`
	SafetyStock  int64    `json:"safety_stock" validate:"gte=0"`
	UnitPrice    *float64 `json:"unit_price" validate:"omitempty,gte=0"`
}

func (h *Handler) handleRegisterStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req registerStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", validationDetail(err))
		return
	}

	level, err := h.service.RegisterInitialStock(r.Context(), RegisterStockInput{
		MaterialID:   req.MaterialID,
		WarehouseID:  req.WarehouseID,
		CurrentStock: req.CurrentStock,
		SafetyStock:  req.SafetyStock,
		UnitPrice:    req.UnitPrice,
		ActorID:      identity.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newStockResponse(level))
}

type adjustStockRequest struct {
	CurrentStock *int64   `json:"current_stock" validate:"omitempty,gte=0"`
	SafetyStock  *int64   `json:"safety_stock" validate:"omitempty,gte=0"`
	UnitPrice    *float64 `json:"unit_price" validate:"omitempty,gte=0"`
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "invalid stock level id")
		return
	}
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", validationDetail(err))
		return
	}

	level, err := h.service.AdjustStock(r.Context(), id, AdjustStockInput{
		CurrentStock: req.CurrentStock,
		SafetyStock:  req.SafetyStock,
		UnitPrice:    req.UnitPrice,
		ActorID:      identity.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("stock adjusted manually",
		slog.Int64("stock_level_id", id),
		slog.Int64("actor_id", identity.UserID),
		slog.Int64("balance", level.CurrentStock))
	httpx.JSON(w, http.StatusOK, newStockResponse(level))
}

func (h *Handler) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "invalid stock level id")
		return
	}
	if err := h.service.DeleteStock(r.Context(), id, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "invalid stock level id")
		return
	}
	level, err := h.service.GetStock(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(level))
}

type listResponse[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockFilter{
		MaterialID:  queryInt64(q.Get("material_id")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
		LowOnly:     q.Get("low_stock") == "true",
		Search:      q.Get("search"),
		SortBy:      q.Get("sort_by"),
		SortDir:     q.Get("sort_dir"),
		Page:        queryInt(q.Get("page")),
		PerPage:     queryInt(q.Get("per_page")),
	}
	levels, total, err := h.service.ListStock(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]stockResponse, 0, len(levels))
	for _, s := range levels {
		items = append(items, newStockResponse(s))
	}
	httpx.JSON(w, http.StatusOK, listResponse[stockResponse]{
		Items:      items,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		MaterialID:  queryInt64(q.Get("material_id")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
		SupplierID:  queryInt64(q.Get("supplier_id")),
		ProjectID:   queryInt64(q.Get("project_id")),
		Search:      q.Get("search"),
		Page:        queryInt(q.Get("page")),
		PerPage:     queryInt(q.Get("per_page")),
	}
	if t := q.Get("type"); t != "" {
		movementType := MovementType(t)
		if !movementType.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "type must be IN or OUT")
			return
		}
		filter.Type = &movementType
	}
	var err error
	if filter.From, filter.To, err = dateRange(q.Get("from"), q.Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", err.Error())
		return
	}

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[Movement]{
		Items:      movements,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReportFilter{
		GroupBy:     GroupBy(q.Get("group_by")),
		MaterialID:  queryInt64(q.Get("material_id")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
	}
	if filter.GroupBy == "" {
		filter.GroupBy = GroupByDay
	}
	var err error
	if filter.From, filter.To, err = dateRange(q.Get("from"), q.Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", err.Error())
		return
	}

	rows, err := h.service.Report(r.Context(), filter)
	if err != nil {
		h.logger.Error("movement report", slog.String("group_by", string(filter.GroupBy)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if q.Get("format") == "csv" {
		h.writeReportCSV(w, filter, rows)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"group_by": filter.GroupBy,
		"rows":     rows,
	})
}

func (h *Handler) writeReportCSV(w http.ResponseWriter, filter ReportFilter, rows []ReportRow) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="movement_report_`+string(filter.GroupBy)+`.csv"`)

	printer := message.NewPrinter(language.English)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"key", "in_quantity", "out_quantity", "in_value", "out_value", "net_quantity", "net_value"})
	for _, row := range rows {
		_ = cw.Write([]string{
			row.Key,
			strconv.FormatInt(row.InQuantity, 10),
			strconv.FormatInt(row.OutQuantity, 10),
			printer.Sprintf("%.2f", row.InValue),
			printer.Sprintf("%.2f", row.OutValue),
			strconv.FormatInt(row.NetQuantity, 10),
			printer.Sprintf("%.2f", row.NetValue),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("write report csv", slog.Any("error", err))
	}
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		if !identity.IsAdmin() {
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validationDetail(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return "invalid value for field " + errs[0].Field()
	}
	return "validation failed"
}

func queryInt64(value string) *int64 {
	if value == "" {
		return nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func queryInt(value string) int {
	n, _ := strconv.Atoi(value)
	return n
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	var fromTime, toTime time.Time
	var err error
	if from != "" {
		fromTime, err = time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidDate("from")
		}
	}
	if to != "" {
		toTime, err = time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidDate("to")
		}
		// Include the whole end day.
		toTime = toTime.Add(24*time.Hour - time.Nanosecond)
	}
	return fromTime, toTime, nil
}

type errInvalidDate string

func (e errInvalidDate) Error() string {
	return string(e) + " must be formatted as YYYY-MM-DD"
}
