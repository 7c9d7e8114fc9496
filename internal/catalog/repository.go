package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Repository persists master data in PostgreSQL. Unique codes and foreign
// keys are enforced by the schema; constraint violations are translated to
// the shared error taxonomy here so services never see raw pg errors.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return shared.ErrConflict
		case "23503":
			return shared.ErrDependentRecords
		}
	}
	return err
}

// listClause appends search/active filters and returns the WHERE tail with
// its arguments. searchCols are ORed together with a single ILIKE argument.
func listClause(filter ListFilter, searchCols ...string) (string, []interface{}) {
	clause := ""
	args := []interface{}{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		placeholder := "$" + strconv.Itoa(argCount)
		clause += " AND ("
		for i, col := range searchCols {
			if i > 0 {
				clause += " OR "
			}
			clause += col + " ILIKE " + placeholder
		}
		clause += ")"
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ActiveOnly {
		clause += " AND active = TRUE"
	}
	return clause, args
}

func listSortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code", "sku":
		return sortBy + " " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}

func pageClause(filter ListFilter, argCount int) (string, []interface{}) {
	clause := " LIMIT $" + strconv.Itoa(argCount+1) + " OFFSET $" + strconv.Itoa(argCount+2)
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	return clause, []interface{}{filter.PerPage, offset}
}

const materialColumns = `id, sku, name, color, finish, unit, unit_price, description, active, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.SKU, &m.Name, &m.Color, &m.Finish, &m.Unit, &m.UnitPrice, &m.Description, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// ListMaterials uses a dynamic query because of filter complexity.
func (r *Repository) ListMaterials(ctx context.Context, filter ListFilter) ([]Material, int, error) {
	clause, args := listClause(filter, "name", "sku", "color")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + materialColumns + ` FROM materials WHERE 1=1` + clause +
		` ORDER BY ` + listSortOrder(filter.SortBy, filter.SortDir)
	page, pageArgs := pageClause(filter, len(args))
	rows, err := r.pool.Query(ctx, query+page, append(args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var materials []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		materials = append(materials, m)
	}
	return materials, total, rows.Err()
}

func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, shared.ErrNotFound
	}
	return m, err
}

func (r *Repository) CreateMaterial(ctx context.Context, m Material) (Material, error) {
	created, err := scanMaterial(r.pool.QueryRow(ctx,
		`INSERT INTO materials (sku, name, color, finish, unit, unit_price, description, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 RETURNING `+materialColumns,
		m.SKU, m.Name, m.Color, m.Finish, m.Unit, m.UnitPrice, m.Description, m.Active))
	if err != nil {
		return Material{}, translatePgError(err)
	}
	return created, nil
}

func (r *Repository) UpdateMaterial(ctx context.Context, id int64, m Material) (Material, error) {
	updated, err := scanMaterial(r.pool.QueryRow(ctx,
		`UPDATE materials SET sku = $1, name = $2, color = $3, finish = $4, unit = $5,
		 unit_price = $6, description = $7, active = $8, updated_at = NOW()
		 WHERE id = $9 RETURNING `+materialColumns,
		m.SKU, m.Name, m.Color, m.Finish, m.Unit, m.UnitPrice, m.Description, m.Active, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, shared.ErrNotFound
	}
	if err != nil {
		return Material{}, translatePgError(err)
	}
	return updated, nil
}

func (r *Repository) DeleteMaterial(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const warehouseColumns = `id, code, name, location, purpose, active, created_at, updated_at`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.Location, &w.Purpose, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *Repository) ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, int, error) {
	clause, args := listClause(filter, "name", "code")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM warehouses WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + warehouseColumns + ` FROM warehouses WHERE 1=1` + clause +
		` ORDER BY ` + listSortOrder(filter.SortBy, filter.SortDir)
	page, pageArgs := pageClause(filter, len(args))
	rows, err := r.pool.Query(ctx, query+page, append(args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, 0, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, total, rows.Err()
}

func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, err
}

func (r *Repository) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	created, err := scanWarehouse(r.pool.QueryRow(ctx,
		`INSERT INTO warehouses (code, name, location, purpose, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING `+warehouseColumns,
		w.Code, w.Name, w.Location, w.Purpose, w.Active))
	if err != nil {
		return Warehouse{}, translatePgError(err)
	}
	return created, nil
}

func (r *Repository) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) (Warehouse, error) {
	updated, err := scanWarehouse(r.pool.QueryRow(ctx,
		`UPDATE warehouses SET code = $1, name = $2, location = $3, purpose = $4, active = $5, updated_at = NOW()
		 WHERE id = $6 RETURNING `+warehouseColumns,
		w.Code, w.Name, w.Location, w.Purpose, w.Active, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, shared.ErrNotFound
	}
	if err != nil {
		return Warehouse{}, translatePgError(err)
	}
	return updated, nil
}

func (r *Repository) DeleteWarehouse(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const supplierColumns = `id, code, name, contact, phone, email, active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Contact, &s.Phone, &s.Email, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	clause, args := listClause(filter, "name", "code", "contact")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE 1=1` + clause +
		` ORDER BY ` + listSortOrder(filter.SortBy, filter.SortDir)
	page, pageArgs := pageClause(filter, len(args))
	rows, err := r.pool.Query(ctx, query+page, append(args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, total, rows.Err()
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.ErrNotFound
	}
	return s, err
}

func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	created, err := scanSupplier(r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (code, name, contact, phone, email, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING `+supplierColumns,
		s.Code, s.Name, s.Contact, s.Phone, s.Email, s.Active))
	if err != nil {
		return Supplier{}, translatePgError(err)
	}
	return created, nil
}

func (r *Repository) UpdateSupplier(ctx context.Context, id int64, s Supplier) (Supplier, error) {
	updated, err := scanSupplier(r.pool.QueryRow(ctx,
		`UPDATE suppliers SET code = $1, name = $2, contact = $3, phone = $4, email = $5, active = $6, updated_at = NOW()
		 WHERE id = $7 RETURNING `+supplierColumns,
		s.Code, s.Name, s.Contact, s.Phone, s.Email, s.Active, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.ErrNotFound
	}
	if err != nil {
		return Supplier{}, translatePgError(err)
	}
	return updated, nil
}

func (r *Repository) DeleteSupplier(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const projectColumns = `id, code, name, location, active, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Location, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) ListProjects(ctx context.Context, filter ListFilter) ([]Project, int, error) {
	clause, args := listClause(filter, "name", "code")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1` + clause +
		` ORDER BY ` + listSortOrder(filter.SortBy, filter.SortDir)
	page, pageArgs := pageClause(filter, len(args))
	rows, err := r.pool.Query(ctx, query+page, append(args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	return projects, total, rows.Err()
}

func (r *Repository) GetProject(ctx context.Context, id int64) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, shared.ErrNotFound
	}
	return p, err
}

func (r *Repository) CreateProject(ctx context.Context, p Project) (Project, error) {
	created, err := scanProject(r.pool.QueryRow(ctx,
		`INSERT INTO projects (code, name, location, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING `+projectColumns,
		p.Code, p.Name, p.Location, p.Active))
	if err != nil {
		return Project{}, translatePgError(err)
	}
	return created, nil
}

func (r *Repository) UpdateProject(ctx context.Context, id int64, p Project) (Project, error) {
	updated, err := scanProject(r.pool.QueryRow(ctx,
		`UPDATE projects SET code = $1, name = $2, location = $3, active = $4, updated_at = NOW()
		 WHERE id = $5 RETURNING `+projectColumns,
		p.Code, p.Name, p.Location, p.Active, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, shared.ErrNotFound
	}
	if err != nil {
		return Project{}, translatePgError(err)
	}
	return updated, nil
}

func (r *Repository) DeleteProject(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
