package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogService manages product and warehouse master records.
// Records referenced by stock, transaction or ledger rows cannot be deleted.
type CatalogService interface {
	CreateProduct(ctx context.Context, in ProductInput) (*Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	// UpdateProduct changes name, category or unit of measure. SKU is immutable.
	UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateWarehouse(ctx context.Context, in WarehouseInput) (*Warehouse, error)
	GetWarehouse(ctx context.Context, id int64) (*Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	DeleteWarehouse(ctx context.Context, id int64) error
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

// Short codes become the first segment of reference numbers, so "/" is excluded.
var validShortCode = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)

const productColumns = `id, name, sku, category, uom, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.UOM, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

const warehouseColumns = `id, name, short_code, address, created_at`

func scanWarehouse(row pgx.Row) (*Warehouse, error) {
	var w Warehouse
	if err := row.Scan(&w.ID, &w.Name, &w.ShortCode, &w.Address, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// ── Products ─────────────────────────────────────────────────────────────────

func (s *catalogService) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	return insertProductTx(ctx, s.pool, in)
}

// insertProductTx validates and inserts a product on q, which may be the pool
// or a caller's transaction.
func insertProductTx(ctx context.Context, q pgxQuerier, in ProductInput) (*Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.TrimSpace(in.SKU)
	in.UOM = strings.TrimSpace(in.UOM)
	if in.Name == "" {
		return nil, validationErrorf("product name is required")
	}
	if in.SKU == "" {
		return nil, validationErrorf("product SKU is required")
	}
	if in.UOM == "" {
		return nil, validationErrorf("product unit of measure is required")
	}
	in.Category = normalizeOptional(in.Category)

	p, err := scanProduct(q.QueryRow(ctx, `
		INSERT INTO products (name, sku, category, uom)
		VALUES ($1, $2, $3, $4)
		RETURNING `+productColumns,
		in.Name, in.SKU, in.Category, in.UOM))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictErrorf("product with SKU %s already exists", in.SKU)
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

func (s *catalogService) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundErrorf("product %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch product: %w", err)
	}
	return p, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	var c conditions
	if filter.Category != nil {
		c.add("category = ?", *filter.Category)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products `+c.where()+` ORDER BY sku`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*Product, error) {
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return nil, validationErrorf("product name cannot be empty")
		}
		upd.Name = &trimmed
	}
	if upd.UOM != nil {
		trimmed := strings.TrimSpace(*upd.UOM)
		if trimmed == "" {
			return nil, validationErrorf("product unit of measure cannot be empty")
		}
		upd.UOM = &trimmed
	}
	if upd.Category != nil {
		trimmed := strings.TrimSpace(*upd.Category)
		upd.Category = &trimmed
	}

	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products SET
			name       = COALESCE($2, name),
			category   = CASE WHEN $3::text IS NULL THEN category ELSE NULLIF($3::text, '') END,
			uom        = COALESCE($4, uom),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, upd.Name, upd.Category, upd.UOM))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundErrorf("product %d not found", id)
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return conflictErrorf("product %d is referenced by stock or transactions", id)
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundErrorf("product %d not found", id)
	}
	return nil
}

// ── Warehouses ───────────────────────────────────────────────────────────────

func (s *catalogService) CreateWarehouse(ctx context.Context, in WarehouseInput) (*Warehouse, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ShortCode = strings.TrimSpace(in.ShortCode)
	if in.Name == "" {
		return nil, validationErrorf("warehouse name is required")
	}
	if !validShortCode.MatchString(in.ShortCode) {
		return nil, validationErrorf("warehouse short code %q must be 1-16 letters, digits, '-' or '_'", in.ShortCode)
	}
	in.Address = normalizeOptional(in.Address)

	w, err := scanWarehouse(s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (name, short_code, address)
		VALUES ($1, $2, $3)
		RETURNING `+warehouseColumns,
		in.Name, in.ShortCode, in.Address))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictErrorf("warehouse with short code %s already exists", in.ShortCode)
		}
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}
	return w, nil
}

func (s *catalogService) GetWarehouse(ctx context.Context, id int64) (*Warehouse, error) {
	w, err := scanWarehouse(s.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundErrorf("warehouse %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch warehouse: %w", err)
	}
	return w, nil
}

func (s *catalogService) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY short_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	warehouses := []Warehouse{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate warehouses: %w", err)
	}
	return warehouses, nil
}

func (s *catalogService) DeleteWarehouse(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return conflictErrorf("warehouse %d is referenced by stock or transactions", id)
		}
		return fmt.Errorf("failed to delete warehouse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundErrorf("warehouse %d not found", id)
	}
	return nil
}

// ensureProductsTx returns NotFound for the first id with no product row.
func ensureProductsTx(ctx context.Context, q pgxQuerier, ids []int64) error {
	for _, id := range ids {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check product %d: %w", id, err)
		}
		if !exists {
			return notFoundErrorf("product %d not found", id)
		}
	}
	return nil
}

func ensureWarehouseTx(ctx context.Context, q pgxQuerier, id int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check warehouse %d: %w", id, err)
	}
	if !exists {
		return notFoundErrorf("warehouse %d not found", id)
	}
	return nil
}

// normalizeOptional trims s and maps blank to nil.
func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
