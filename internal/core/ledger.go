package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StockLedger owns the stock rows and the append-only ledger behind them.
// PostTx is the only writer of either table.
type StockLedger interface {
	// PostTx applies every posting inside the caller's transaction and returns the
	// resulting balances in application order. Any posting that would drive
	// on_hand or free_to_use below zero fails the whole batch with an
	// *InsufficientStockError; the caller must roll back.
	PostTx(ctx context.Context, tx pgx.Tx, transactionID int64, postings []Posting) ([]Balance, error)
	// Balance returns the current balance, zero when the pair has never been posted.
	Balance(ctx context.Context, productID, warehouseID int64) (Balance, error)
	Balances(ctx context.Context, filter StockFilter) ([]StockLevel, error)
	Entries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	// Reconcile lists every pair whose on_hand differs from the sum of its entries.
	Reconcile(ctx context.Context) ([]Discrepancy, error)
}

type stockLedger struct {
	pool *pgxpool.Pool
}

func NewStockLedger(pool *pgxpool.Pool) StockLedger {
	return &stockLedger{pool: pool}
}

func (l *stockLedger) PostTx(ctx context.Context, tx pgx.Tx, transactionID int64, postings []Posting) ([]Balance, error) {
	ordered := orderPostings(postings)
	balances := make([]Balance, 0, len(ordered))

	for _, p := range ordered {
		if p.Delta.IsZero() {
			continue
		}
		if err := ensureStockRowTx(ctx, tx, p.ProductID, p.WarehouseID); err != nil {
			return nil, err
		}

		// Single conditional statement: the row lock taken by UPDATE makes the
		// sufficiency check and the write one step.
		b := Balance{ProductID: p.ProductID, WarehouseID: p.WarehouseID}
		err := tx.QueryRow(ctx, `
			UPDATE stock SET
				unit_cost = CASE
					WHEN $4::numeric IS NOT NULL AND $3::numeric > 0 AND on_hand + $3::numeric > 0
					THEN ROUND((on_hand * unit_cost + $3::numeric * $4::numeric) / (on_hand + $3::numeric), 4)
					ELSE unit_cost
				END,
				on_hand     = on_hand + $3::numeric,
				free_to_use = free_to_use + $3::numeric,
				updated_at  = NOW()
			WHERE product_id = $1 AND warehouse_id = $2
			  AND on_hand + $3::numeric >= 0
			  AND free_to_use + $3::numeric >= 0
			RETURNING on_hand, free_to_use, unit_cost
		`, p.ProductID, p.WarehouseID, p.Delta, p.UnitCost).Scan(&b.OnHand, &b.FreeToUse, &b.UnitCost)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, insufficientStockTx(ctx, tx, p)
			}
			return nil, fmt.Errorf("failed to update stock for product %d at warehouse %d: %w", p.ProductID, p.WarehouseID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO stock_ledger_entries (transaction_id, product_id, warehouse_id, quantity_change, kind)
			VALUES ($1, $2, $3, $4, $5)
		`, transactionID, p.ProductID, p.WarehouseID, p.Delta, string(p.Kind))
		if err != nil {
			return nil, fmt.Errorf("failed to append ledger entry: %w", err)
		}

		balances = append(balances, b)
	}
	return balances, nil
}

// orderPostings returns a copy sorted by (product, warehouse) so concurrent
// batches lock stock rows in the same order. The sort is stable to keep the
// caller's order within a pair.
func orderPostings(postings []Posting) []Posting {
	ordered := make([]Posting, len(postings))
	copy(ordered, postings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ProductID != ordered[j].ProductID {
			return ordered[i].ProductID < ordered[j].ProductID
		}
		return ordered[i].WarehouseID < ordered[j].WarehouseID
	})
	return ordered
}

func ensureStockRowTx(ctx context.Context, tx pgx.Tx, productID, warehouseID int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock (product_id, warehouse_id)
		VALUES ($1, $2)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING
	`, productID, warehouseID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return notFoundErrorf("product %d or warehouse %d not found", productID, warehouseID)
		}
		return fmt.Errorf("failed to create stock row: %w", err)
	}
	return nil
}

func insufficientStockTx(ctx context.Context, tx pgx.Tx, p Posting) error {
	var available decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT free_to_use FROM stock WHERE product_id = $1 AND warehouse_id = $2`,
		p.ProductID, p.WarehouseID).Scan(&available)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read stock after rejected posting: %w", err)
	}
	return &InsufficientStockError{
		ProductID:   p.ProductID,
		WarehouseID: p.WarehouseID,
		Requested:   p.Delta.Neg().String(),
		Available:   available.String(),
	}
}

// lockBalanceTx returns the balance with its stock row locked until the
// caller's transaction ends, creating a zero row if none exists.
func lockBalanceTx(ctx context.Context, tx pgx.Tx, productID, warehouseID int64) (Balance, error) {
	if err := ensureStockRowTx(ctx, tx, productID, warehouseID); err != nil {
		return Balance{}, err
	}
	b := Balance{ProductID: productID, WarehouseID: warehouseID}
	err := tx.QueryRow(ctx, `
		SELECT on_hand, free_to_use, unit_cost
		FROM stock
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE
	`, productID, warehouseID).Scan(&b.OnHand, &b.FreeToUse, &b.UnitCost)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to lock stock row: %w", err)
	}
	return b, nil
}

func (l *stockLedger) Balance(ctx context.Context, productID, warehouseID int64) (Balance, error) {
	b := Balance{ProductID: productID, WarehouseID: warehouseID}
	err := l.pool.QueryRow(ctx, `
		SELECT on_hand, free_to_use, unit_cost
		FROM stock
		WHERE product_id = $1 AND warehouse_id = $2
	`, productID, warehouseID).Scan(&b.OnHand, &b.FreeToUse, &b.UnitCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, nil
		}
		return Balance{}, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return b, nil
}

func (l *stockLedger) Balances(ctx context.Context, filter StockFilter) ([]StockLevel, error) {
	var c conditions
	if filter.ProductID != nil {
		c.add("s.product_id = ?", *filter.ProductID)
	}
	if filter.WarehouseID != nil {
		c.add("s.warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.Category != nil {
		c.add("p.category = ?", *filter.Category)
	}
	return queryStockLevels(ctx, l.pool, c)
}

// queryStockLevels is shared with reporting.
func queryStockLevels(ctx context.Context, q pgxRowQuerier, c conditions) ([]StockLevel, error) {
	rows, err := q.Query(ctx, `
		SELECT s.product_id, s.warehouse_id, s.on_hand, s.free_to_use, s.unit_cost,
		       p.sku, p.name, w.short_code, w.name, s.updated_at
		FROM stock s
		JOIN products p   ON p.id = s.product_id
		JOIN warehouses w ON w.id = s.warehouse_id
		`+c.where()+`
		ORDER BY p.sku, w.short_code
	`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	levels := []StockLevel{}
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(
			&sl.ProductID, &sl.WarehouseID, &sl.OnHand, &sl.FreeToUse, &sl.UnitCost,
			&sl.SKU, &sl.ProductName, &sl.WarehouseCode, &sl.WarehouseName, &sl.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock levels: %w", err)
	}
	return levels, nil
}

func (l *stockLedger) Entries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var c conditions
	if filter.WarehouseID != nil {
		c.add("e.warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.ProductID != nil {
		c.add("e.product_id = ?", *filter.ProductID)
	}
	if filter.TransactionID != nil {
		c.add("e.transaction_id = ?", *filter.TransactionID)
	}
	args := append(c.args, clampLimit(filter.Limit))

	rows, err := l.pool.Query(ctx, fmt.Sprintf(`
		SELECT e.id, e.transaction_id, t.reference_number,
		       e.product_id, p.sku, e.warehouse_id, w.short_code,
		       e.quantity_change, e.kind, e.created_at
		FROM stock_ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id
		JOIN products p     ON p.id = e.product_id
		JOIN warehouses w   ON w.id = e.warehouse_id
		%s
		ORDER BY e.id
		LIMIT $%d
	`, c.where(), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(
			&e.ID, &e.TransactionID, &e.ReferenceNumber,
			&e.ProductID, &e.SKU, &e.WarehouseID, &e.WarehouseCode,
			&e.QuantityChange, &kind, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

func (l *stockLedger) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT COALESCE(s.product_id, e.product_id),
		       COALESCE(s.warehouse_id, e.warehouse_id),
		       COALESCE(s.on_hand, 0),
		       COALESCE(e.total, 0)
		FROM stock s
		FULL OUTER JOIN (
			SELECT product_id, warehouse_id, SUM(quantity_change) AS total
			FROM stock_ledger_entries
			GROUP BY product_id, warehouse_id
		) e ON e.product_id = s.product_id AND e.warehouse_id = s.warehouse_id
		WHERE COALESCE(s.on_hand, 0) <> COALESCE(e.total, 0)
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile stock: %w", err)
	}
	defer rows.Close()

	out := []Discrepancy{}
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ProductID, &d.WarehouseID, &d.OnHand, &d.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discrepancies: %w", err)
	}
	return out, nil
}
