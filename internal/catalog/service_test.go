package catalog

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

type fakeRepo struct {
	materials  map[int64]Material
	warehouses map[int64]Warehouse
	suppliers  map[int64]Supplier
	projects   map[int64]Project
	nextID     int64

	// ids with dependent ledger rows; deletes against them fail the way
	// the FK constraint does.
	referenced map[int64]bool

	lastFilter ListFilter
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		materials:  map[int64]Material{},
		warehouses: map[int64]Warehouse{},
		suppliers:  map[int64]Supplier{},
		projects:   map[int64]Project{},
		referenced: map[int64]bool{},
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) ListMaterials(ctx context.Context, filter ListFilter) ([]Material, int, error) {
	f.lastFilter = filter
	var out []Material
	for _, m := range f.materials {
		if filter.ActiveOnly && !m.Active {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(m.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *fakeRepo) GetMaterial(ctx context.Context, id int64) (Material, error) {
	if m, ok := f.materials[id]; ok {
		return m, nil
	}
	return Material{}, shared.ErrNotFound
}

func (f *fakeRepo) CreateMaterial(ctx context.Context, m Material) (Material, error) {
	for _, existing := range f.materials {
		if existing.SKU == m.SKU {
			return Material{}, shared.ErrConflict
		}
	}
	m.ID = f.id()
	f.materials[m.ID] = m
	return m, nil
}

func (f *fakeRepo) UpdateMaterial(ctx context.Context, id int64, m Material) (Material, error) {
	if _, ok := f.materials[id]; !ok {
		return Material{}, shared.ErrNotFound
	}
	m.ID = id
	f.materials[id] = m
	return m, nil
}

func (f *fakeRepo) DeleteMaterial(ctx context.Context, id int64) error {
	if _, ok := f.materials[id]; !ok {
		return shared.ErrNotFound
	}
	if f.referenced[id] {
		return shared.ErrDependentRecords
	}
	delete(f.materials, id)
	return nil
}

func (f *fakeRepo) ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, int, error) {
	var out []Warehouse
	for _, w := range f.warehouses {
		out = append(out, w)
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if w, ok := f.warehouses[id]; ok {
		return w, nil
	}
	return Warehouse{}, shared.ErrNotFound
}

func (f *fakeRepo) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	for _, existing := range f.warehouses {
		if existing.Code == w.Code {
			return Warehouse{}, shared.ErrConflict
		}
	}
	w.ID = f.id()
	f.warehouses[w.ID] = w
	return w, nil
}

func (f *fakeRepo) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) (Warehouse, error) {
	if _, ok := f.warehouses[id]; !ok {
		return Warehouse{}, shared.ErrNotFound
	}
	w.ID = id
	f.warehouses[id] = w
	return w, nil
}

func (f *fakeRepo) DeleteWarehouse(ctx context.Context, id int64) error {
	if _, ok := f.warehouses[id]; !ok {
		return shared.ErrNotFound
	}
	if f.referenced[id] {
		return shared.ErrDependentRecords
	}
	delete(f.warehouses, id)
	return nil
}

func (f *fakeRepo) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	var out []Supplier
	for _, s := range f.suppliers {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if s, ok := f.suppliers[id]; ok {
		return s, nil
	}
	return Supplier{}, shared.ErrNotFound
}

func (f *fakeRepo) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	s.ID = f.id()
	f.suppliers[s.ID] = s
	return s, nil
}

func (f *fakeRepo) UpdateSupplier(ctx context.Context, id int64, s Supplier) (Supplier, error) {
	if _, ok := f.suppliers[id]; !ok {
		return Supplier{}, shared.ErrNotFound
	}
	s.ID = id
	f.suppliers[id] = s
	return s, nil
}

func (f *fakeRepo) DeleteSupplier(ctx context.Context, id int64) error {
	if _, ok := f.suppliers[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.suppliers, id)
	return nil
}

func (f *fakeRepo) ListProjects(ctx context.Context, filter ListFilter) ([]Project, int, error) {
	var out []Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetProject(ctx context.Context, id int64) (Project, error) {
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return Project{}, shared.ErrNotFound
}

func (f *fakeRepo) CreateProject(ctx context.Context, p Project) (Project, error) {
	p.ID = f.id()
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeRepo) UpdateProject(ctx context.Context, id int64, p Project) (Project, error) {
	if _, ok := f.projects[id]; !ok {
		return Project{}, shared.ErrNotFound
	}
	p.ID = id
	f.projects[id] = p
	return p, nil
}

func (f *fakeRepo) DeleteProject(ctx context.Context, id int64) error {
	if _, ok := f.projects[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.projects, id)
	return nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func TestCreateMaterialValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), nil)
	ctx := context.Background()

	cases := []Material{
		{Name: "Cement", Unit: "bag"},
		{SKU: "CEM-01", Unit: "bag"},
		{SKU: "CEM-01", Name: "Cement"},
		{SKU: "CEM-01", Name: "Cement", Unit: "bag", UnitPrice: floatPtr(-1)},
		{SKU: "  ", Name: "Cement", Unit: "bag"},
	}
	for _, m := range cases {
		_, err := svc.CreateMaterial(ctx, m, 1)
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	}
}

func TestCreateMaterialDuplicateSKU(t *testing.T) {
	svc := NewService(newFakeRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateMaterial(ctx, Material{SKU: "CEM-01", Name: "Cement", Unit: "bag"}, 1)
	require.NoError(t, err)

	_, err = svc.CreateMaterial(ctx, Material{SKU: "CEM-01", Name: "Cement White", Unit: "bag"}, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMaterialLifecycleAudited(t *testing.T) {
	audit := &recordingAudit{}
	svc := NewService(newFakeRepo(), audit)
	ctx := context.Background()

	m, err := svc.CreateMaterial(ctx, Material{SKU: "REB-12", Name: "Rebar 12mm", Unit: "pc", Active: true}, 1)
	require.NoError(t, err)

	m.Name = "Rebar 12mm B500"
	_, err = svc.UpdateMaterial(ctx, m.ID, m, 1)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMaterial(ctx, m.ID, 1))
	require.Equal(t, []string{"material:CREATE", "material:UPDATE", "material:DELETE"}, audit.actions)
}

func TestDeleteBlockedByDependents(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m, err := svc.CreateMaterial(ctx, Material{SKU: "SND-01", Name: "Sand", Unit: "m3"}, 1)
	require.NoError(t, err)
	repo.referenced[m.ID] = true

	err = svc.DeleteMaterial(ctx, m.ID, 1)
	require.ErrorIs(t, err, shared.ErrDependentRecords)

	_, err = svc.GetMaterial(ctx, m.ID)
	require.NoError(t, err)
}

func TestWarehouseCodeRequired(t *testing.T) {
	svc := NewService(newFakeRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateWarehouse(ctx, Warehouse{Name: "Main Yard"}, 1)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.CreateWarehouse(ctx, Warehouse{Code: "WH-01"}, 1)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.CreateWarehouse(ctx, Warehouse{Code: "WH-01", Name: "Main Yard"}, 1)
	require.NoError(t, err)

	_, err = svc.CreateWarehouse(ctx, Warehouse{Code: "WH-01", Name: "Second Yard"}, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestListMaterialsFilterNormalisation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)

	_, _, err := svc.ListMaterials(context.Background(), ListFilter{Page: -3, PerPage: 1000})
	require.NoError(t, err)
	require.Equal(t, 1, repo.lastFilter.Page)
	require.Equal(t, 20, repo.lastFilter.PerPage)
}

func TestListMaterialsActiveOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateMaterial(ctx, Material{SKU: "A", Name: "Active", Unit: "pc", Active: true}, 1)
	require.NoError(t, err)
	_, err = svc.CreateMaterial(ctx, Material{SKU: "B", Name: "Retired", Unit: "pc", Active: false}, 1)
	require.NoError(t, err)

	materials, total, err := svc.ListMaterials(ctx, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Active", materials[0].Name)
}

func TestGetUnknownEntities(t *testing.T) {
	svc := NewService(newFakeRepo(), nil)
	ctx := context.Background()

	_, err := svc.GetMaterial(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetWarehouse(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetSupplier(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetProject(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.GetMaterial(ctx, 0)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func floatPtr(f float64) *float64 { return &f }
