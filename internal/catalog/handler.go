package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Handler wires HTTP endpoints for master data.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes. Reads are open to any authenticated
// caller; writes are admin only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", h.handleListMaterials)
		r.Get("/{id}", h.handleGetMaterial)
		r.With(h.requireAdmin).Post("/", h.handleCreateMaterial)
		r.With(h.requireAdmin).Put("/{id}", h.handleUpdateMaterial)
		r.With(h.requireAdmin).Delete("/{id}", h.handleDeleteMaterial)
	})
	r.Route("/warehouses", func(r chi.Router) {
		r.Get("/", h.handleListWarehouses)
		r.Get("/{id}", h.handleGetWarehouse)
		r.With(h.requireAdmin).Post("/", h.handleCreateWarehouse)
		r.With(h.requireAdmin).Put("/{id}", h.handleUpdateWarehouse)
		r.With(h.requireAdmin).Delete("/{id}", h.handleDeleteWarehouse)
	})
	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.handleListSuppliers)
		r.Get("/{id}", h.handleGetSupplier)
		r.With(h.requireAdmin).Post("/", h.handleCreateSupplier)
		r.With(h.requireAdmin).Put("/{id}", h.handleUpdateSupplier)
		r.With(h.requireAdmin).Delete("/{id}", h.handleDeleteSupplier)
	})
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.handleListProjects)
		r.Get("/{id}", h.handleGetProject)
		r.With(h.requireAdmin).Post("/", h.handleCreateProject)
		r.With(h.requireAdmin).Put("/{id}", h.handleUpdateProject)
		r.With(h.requireAdmin).Delete("/{id}", h.handleDeleteProject)
	})
}

type materialRequest struct {
	SKU         string   `json:"sku" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Color       string   `json:"color"`
	Finish      string   `json:"finish"`
	Unit        string   `json:"unit" validate:"required"`
	UnitPrice   *float64 `json:"unit_price" validate:"omitempty,gte=0"`
	Description string   `json:"description"`
	Active      *bool    `json:"active"`
}

func (req materialRequest) toDomain() Material {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return Material{
		SKU:         req.SKU,
		Name:        req.Name,
		Color:       req.Color,
		Finish:      req.Finish,
		Unit:        req.Unit,
		UnitPrice:   req.UnitPrice,
		Description: req.Description,
		Active:      active,
	}
}

type warehouseRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Location string `json:"location"`
	Purpose  string `json:"purpose"`
	Active   *bool  `json:"active"`
}

func (req warehouseRequest) toDomain() Warehouse {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return Warehouse{
		Code:     req.Code,
		Name:     req.Name,
		Location: req.Location,
		Purpose:  req.Purpose,
		Active:   active,
	}
}

type supplierRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
	Active  *bool  `json:"active"`
}

func (req supplierRequest) toDomain() Supplier {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return Supplier{
		Code:    req.Code,
		Name:    req.Name,
		Contact: req.Contact,
		Phone:   req.Phone,
		Email:   req.Email,
		Active:  active,
	}
}

type projectRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Location string `json:"location"`
	Active   *bool  `json:"active"`
}

func (req projectRequest) toDomain() Project {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return Project{
		Code:     req.Code,
		Name:     req.Name,
		Location: req.Location,
		Active:   active,
	}
}

type listResponse[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func listFilterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return ListFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
		SortBy:     q.Get("sort_by"),
		SortDir:    q.Get("sort_dir"),
		Page:       page,
		PerPage:    perPage,
	}
}

func (h *Handler) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	materials, total, err := h.service.ListMaterials(r.Context(), filter)
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if materials == nil {
		materials = []Material{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Material]{Items: materials, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, err := h.service.GetMaterial(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req materialRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateMaterial(r.Context(), req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req materialRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateMaterial(r.Context(), id, req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteMaterial(r.Context(), id, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListWarehouses(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	warehouses, total, err := h.service.ListWarehouses(r.Context(), filter)
	if err != nil {
		h.logger.Error("list warehouses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if warehouses == nil {
		warehouses = []Warehouse{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Warehouse]{Items: warehouses, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) handleGetWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	wh, err := h.service.GetWarehouse(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) handleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req warehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateWarehouse(r.Context(), req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateWarehouse(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req warehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateWarehouse(r.Context(), id, req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteWarehouse(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteWarehouse(r.Context(), id, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	suppliers, total, err := h.service.ListSuppliers(r.Context(), filter)
	if err != nil {
		h.logger.Error("list suppliers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if suppliers == nil {
		suppliers = []Supplier{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Supplier]{Items: suppliers, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	s, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req supplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateSupplier(r.Context(), req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateSupplier(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req supplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateSupplier(r.Context(), id, req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteSupplier(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSupplier(r.Context(), id, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	projects, total, err := h.service.ListProjects(r.Context(), filter)
	if err != nil {
		h.logger.Error("list projects", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if projects == nil {
		projects = []Project{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Project]{Items: projects, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProject(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req projectRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateProject(r.Context(), req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req projectRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateProject(r.Context(), id, req.toDomain(), identity.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProject(r.Context(), id, identity.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, writing the problem response
// itself when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		detail := "validation failed"
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			detail = "invalid value for field " + errs[0].Field()
		}
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", detail)
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", "invalid id")
		return 0, false
	}
	return id, true
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
