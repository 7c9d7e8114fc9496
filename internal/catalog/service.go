package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort abstracts storage for the service.
type RepositoryPort interface {
	ListMaterials(ctx context.Context, filter ListFilter) ([]Material, int, error)
	GetMaterial(ctx context.Context, id int64) (Material, error)
	CreateMaterial(ctx context.Context, m Material) (Material, error)
	UpdateMaterial(ctx context.Context, id int64, m Material) (Material, error)
	DeleteMaterial(ctx context.Context, id int64) error

	ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, int, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	UpdateWarehouse(ctx context.Context, id int64, w Warehouse) (Warehouse, error)
	DeleteWarehouse(ctx context.Context, id int64) error

	ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, id int64, s Supplier) (Supplier, error)
	DeleteSupplier(ctx context.Context, id int64) error

	ListProjects(ctx context.Context, filter ListFilter) ([]Project, int, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	CreateProject(ctx context.Context, p Project) (Project, error)
	UpdateProject(ctx context.Context, id int64, p Project) (Project, error)
	DeleteProject(ctx context.Context, id int64) error
}

// Service validates and coordinates master-data operations.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
}

// NewService builds Service. A nil audit disables audit logging.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func normalizeFilter(filter *ListFilter) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 || filter.PerPage > 200 {
		filter.PerPage = 20
	}
}

func requireID(id int64, entity string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s id required", shared.ErrInvalidArgument, entity)
	}
	return nil
}

func (s *Service) validateMaterial(m Material) error {
	if strings.TrimSpace(m.SKU) == "" {
		return fmt.Errorf("%w: material sku is required", shared.ErrInvalidArgument)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: material name is required", shared.ErrInvalidArgument)
	}
	if strings.TrimSpace(m.Unit) == "" {
		return fmt.Errorf("%w: material unit is required", shared.ErrInvalidArgument)
	}
	if m.UnitPrice != nil && *m.UnitPrice < 0 {
		return fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidArgument)
	}
	return nil
}

func validateCoded(code, name, entity string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: %s code is required", shared.ErrInvalidArgument, entity)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is required", shared.ErrInvalidArgument, entity)
	}
	return nil
}

func (s *Service) ListMaterials(ctx context.Context, filter ListFilter) ([]Material, int, error) {
	normalizeFilter(&filter)
	return s.repo.ListMaterials(ctx, filter)
}

func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	if err := requireID(id, "material"); err != nil {
		return Material{}, err
	}
	return s.repo.GetMaterial(ctx, id)
}

func (s *Service) CreateMaterial(ctx context.Context, m Material, actorID int64) (Material, error) {
	if err := s.validateMaterial(m); err != nil {
		return Material{}, err
	}
	created, err := s.repo.CreateMaterial(ctx, m)
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, actorID, "material:CREATE", "material", created.ID)
	return created, nil
}

func (s *Service) UpdateMaterial(ctx context.Context, id int64, m Material, actorID int64) (Material, error) {
	if err := requireID(id, "material"); err != nil {
		return Material{}, err
	}
	if err := s.validateMaterial(m); err != nil {
		return Material{}, err
	}
	updated, err := s.repo.UpdateMaterial(ctx, id, m)
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, actorID, "material:UPDATE", "material", id)
	return updated, nil
}

func (s *Service) DeleteMaterial(ctx context.Context, id int64, actorID int64) error {
	if err := requireID(id, "material"); err != nil {
		return err
	}
	if err := s.repo.DeleteMaterial(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "material:DELETE", "material", id)
	return nil
}

func (s *Service) ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, int, error) {
	normalizeFilter(&filter)
	return s.repo.ListWarehouses(ctx, filter)
}

func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if err := requireID(id, "warehouse"); err != nil {
		return Warehouse{}, err
	}
	return s.repo.GetWarehouse(ctx, id)
}

func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse, actorID int64) (Warehouse, error) {
	if err := validateCoded(w.Code, w.Name, "warehouse"); err != nil {
		return Warehouse{}, err
	}
	created, err := s.repo.CreateWarehouse(ctx, w)
	if err != nil {
		return Warehouse{}, err
	}
	s.recordAudit(ctx, actorID, "warehouse:CREATE", "warehouse", created.ID)
	return created, nil
}

func (s *Service) UpdateWarehouse(ctx context.Context, id int64, w Warehouse, actorID int64) (Warehouse, error) {
	if err := requireID(id, "warehouse"); err != nil {
		return Warehouse{}, err
	}
	if err := validateCoded(w.Code, w.Name, "warehouse"); err != nil {
		return Warehouse{}, err
	}
	updated, err := s.repo.UpdateWarehouse(ctx, id, w)
	if err != nil {
		return Warehouse{}, err
	}
	s.recordAudit(ctx, actorID, "warehouse:UPDATE", "warehouse", id)
	return updated, nil
}

func (s *Service) DeleteWarehouse(ctx context.Context, id int64, actorID int64) error {
	if err := requireID(id, "warehouse"); err != nil {
		return err
	}
	if err := s.repo.DeleteWarehouse(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "warehouse:DELETE", "warehouse", id)
	return nil
}

func (s *Service) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	normalizeFilter(&filter)
	return s.repo.ListSuppliers(ctx, filter)
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if err := requireID(id, "supplier"); err != nil {
		return Supplier{}, err
	}
	return s.repo.GetSupplier(ctx, id)
}

func (s *Service) CreateSupplier(ctx context.Context, sup Supplier, actorID int64) (Supplier, error) {
	if err := validateCoded(sup.Code, sup.Name, "supplier"); err != nil {
		return Supplier{}, err
	}
	created, err := s.repo.CreateSupplier(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, actorID, "supplier:CREATE", "supplier", created.ID)
	return created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id int64, sup Supplier, actorID int64) (Supplier, error) {
	if err := requireID(id, "supplier"); err != nil {
		return Supplier{}, err
	}
	if err := validateCoded(sup.Code, sup.Name, "supplier"); err != nil {
		return Supplier{}, err
	}
	updated, err := s.repo.UpdateSupplier(ctx, id, sup)
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, actorID, "supplier:UPDATE", "supplier", id)
	return updated, nil
}

func (s *Service) DeleteSupplier(ctx context.Context, id int64, actorID int64) error {
	if err := requireID(id, "supplier"); err != nil {
		return err
	}
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "supplier:DELETE", "supplier", id)
	return nil
}

func (s *Service) ListProjects(ctx context.Context, filter ListFilter) ([]Project, int, error) {
	normalizeFilter(&filter)
	return s.repo.ListProjects(ctx, filter)
}

func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	if err := requireID(id, "project"); err != nil {
		return Project{}, err
	}
	return s.repo.GetProject(ctx, id)
}

func (s *Service) CreateProject(ctx context.Context, p Project, actorID int64) (Project, error) {
	if err := validateCoded(p.Code, p.Name, "project"); err != nil {
		return Project{}, err
	}
	created, err := s.repo.CreateProject(ctx, p)
	if err != nil {
		return Project{}, err
	}
	s.recordAudit(ctx, actorID, "project:CREATE", "project", created.ID)
	return created, nil
}

func (s *Service) UpdateProject(ctx context.Context, id int64, p Project, actorID int64) (Project, error) {
	if err := requireID(id, "project"); err != nil {
		return Project{}, err
	}
	if err := validateCoded(p.Code, p.Name, "project"); err != nil {
		return Project{}, err
	}
	updated, err := s.repo.UpdateProject(ctx, id, p)
	if err != nil {
		return Project{}, err
	}
	s.recordAudit(ctx, actorID, "project:UPDATE", "project", id)
	return updated, nil
}

func (s *Service) DeleteProject(ctx context.Context, id int64, actorID int64) error {
	if err := requireID(id, "project"); err != nil {
		return err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "project:DELETE", "project", id)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
	})
}
