package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TransactionEngine creates stock-moving transactions and drives them through
// draft → ready → done (or canceled). Validate is the only path that posts to
// the StockLedger, and it commits the ledger effect and the status change in
// one database transaction.
type TransactionEngine interface {
	CreateReceipt(ctx context.Context, in ReceiptInput) (*Transaction, error)
	CreateDelivery(ctx context.Context, in DeliveryInput) (*Transaction, error)
	CreateInternalTransfer(ctx context.Context, in TransferInput) (*Transaction, error)
	// AdjustStock records a physical count: it creates an adjustment transaction
	// and validates it immediately, posting counted - on_hand.
	AdjustStock(ctx context.Context, in AdjustmentInput) (*ValidationResult, error)
	CreateProductWithOpeningStock(ctx context.Context, in OpeningStockInput) (*Product, *ValidationResult, error)

	Validate(ctx context.Context, id int64) (*ValidationResult, error)
	MarkReady(ctx context.Context, id int64) (*Transaction, error)
	Cancel(ctx context.Context, id int64) (*Transaction, error)

	Get(ctx context.Context, id int64) (*Transaction, error)
	GetByReference(ctx context.Context, ref string) (*Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

type transactionEngine struct {
	pool       *pgxpool.Pool
	ledger     StockLedger
	maxRetries int
	tracer     trace.Tracer
}

// NewTransactionEngine returns an engine that retries serialization failures
// and deadlocks up to maxRetries times per operation.
func NewTransactionEngine(pool *pgxpool.Pool, ledger StockLedger, maxRetries int) TransactionEngine {
	return &transactionEngine{
		pool:       pool,
		ledger:     ledger,
		maxRetries: maxRetries,
		tracer:     otel.Tracer("inventory-service/core"),
	}
}

func (e *transactionEngine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "TransactionEngine."+name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ── Creation ─────────────────────────────────────────────────────────────────

type newTransaction struct {
	typ             TransactionType
	status          TransactionStatus
	fromWarehouseID *int64
	toWarehouseID   *int64
	supplier        *string
	deliveryAddress *string
	scheduledDate   *time.Time
	createdBy       *string
	lines           []LineInput
	countedQty      *decimal.Decimal
}

// referenceWarehouse is the warehouse whose counter numbers the transaction.
func (n newTransaction) referenceWarehouse() int64 {
	if n.typ == TypeReceipt || n.typ == TypeAdjustment {
		return *n.toWarehouseID
	}
	return *n.fromWarehouseID
}

func initialStatus(draft bool) TransactionStatus {
	if draft {
		return StatusDraft
	}
	return StatusReady
}

func (e *transactionEngine) CreateReceipt(ctx context.Context, in ReceiptInput) (txn *Transaction, err error) {
	ctx, span := e.startSpan(ctx, "CreateReceipt", attribute.Int64("warehouse.to", in.ToWarehouseID))
	defer func() { finishSpan(span, err) }()

	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	if in.ToWarehouseID <= 0 {
		return nil, validationErrorf("to_warehouse_id is required for a receipt")
	}
	return e.create(ctx, newTransaction{
		typ:           TypeReceipt,
		status:        initialStatus(in.Draft),
		toWarehouseID: &in.ToWarehouseID,
		supplier:      normalizeOptional(&in.Supplier),
		scheduledDate: in.ScheduledDate,
		createdBy:     normalizeOptional(&in.CreatedBy),
		lines:         in.Lines,
	})
}

func (e *transactionEngine) CreateDelivery(ctx context.Context, in DeliveryInput) (txn *Transaction, err error) {
	ctx, span := e.startSpan(ctx, "CreateDelivery", attribute.Int64("warehouse.from", in.FromWarehouseID))
	defer func() { finishSpan(span, err) }()

	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	if in.FromWarehouseID <= 0 {
		return nil, validationErrorf("from_warehouse_id is required for a delivery")
	}
	return e.create(ctx, newTransaction{
		typ:             TypeDelivery,
		status:          initialStatus(in.Draft),
		fromWarehouseID: &in.FromWarehouseID,
		deliveryAddress: normalizeOptional(&in.DeliveryAddress),
		scheduledDate:   in.ScheduledDate,
		createdBy:       normalizeOptional(&in.CreatedBy),
		lines:           in.Lines,
	})
}

func (e *transactionEngine) CreateInternalTransfer(ctx context.Context, in TransferInput) (txn *Transaction, err error) {
	ctx, span := e.startSpan(ctx, "CreateInternalTransfer",
		attribute.Int64("warehouse.from", in.FromWarehouseID),
		attribute.Int64("warehouse.to", in.ToWarehouseID))
	defer func() { finishSpan(span, err) }()

	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	if in.FromWarehouseID <= 0 || in.ToWarehouseID <= 0 {
		return nil, validationErrorf("from_warehouse_id and to_warehouse_id are required for an internal transfer")
	}
	if in.FromWarehouseID == in.ToWarehouseID {
		return nil, validationErrorf("internal transfer source and destination must differ")
	}
	return e.create(ctx, newTransaction{
		typ:             TypeInternalTransfer,
		status:          initialStatus(in.Draft),
		fromWarehouseID: &in.FromWarehouseID,
		toWarehouseID:   &in.ToWarehouseID,
		scheduledDate:   in.ScheduledDate,
		createdBy:       normalizeOptional(&in.CreatedBy),
		lines:           in.Lines,
	})
}

func (e *transactionEngine) create(ctx context.Context, n newTransaction) (*Transaction, error) {
	var out *Transaction
	err := runInTx(ctx, e.pool, e.maxRetries, func(tx pgx.Tx) error {
		id, err := insertTransactionTx(ctx, tx, n)
		if err != nil {
			return err
		}
		out, err = loadTransaction(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, n newTransaction) (int64, error) {
	for _, wh := range []*int64{n.fromWarehouseID, n.toWarehouseID} {
		if wh == nil {
			continue
		}
		if err := ensureWarehouseTx(ctx, tx, *wh); err != nil {
			return 0, err
		}
	}
	if err := ensureProductsTx(ctx, tx, lineProductIDs(n.lines)); err != nil {
		return 0, err
	}

	ref, err := nextReferenceTx(ctx, tx, n.referenceWarehouse(), n.typ)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (type, status, reference_number, from_warehouse_id, to_warehouse_id,
		                          supplier, delivery_address, scheduled_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, string(n.typ), string(n.status), ref, n.fromWarehouseID, n.toWarehouseID,
		n.supplier, n.deliveryAddress, n.scheduledDate, n.createdBy).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, conflictErrorf("reference number %s already exists", ref)
		}
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	for _, l := range n.lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO transaction_lines (transaction_id, product_id, quantity, unit_cost, counted_qty)
			VALUES ($1, $2, $3, $4, $5)
		`, id, l.ProductID, l.Quantity, l.UnitCost, n.countedQty)
		if err != nil {
			return 0, fmt.Errorf("failed to insert transaction line: %w", err)
		}
	}
	return id, nil
}

// ── Validation ───────────────────────────────────────────────────────────────

func (e *transactionEngine) Validate(ctx context.Context, id int64) (res *ValidationResult, err error) {
	ctx, span := e.startSpan(ctx, "Validate", attribute.Int64("transaction.id", id))
	defer func() { finishSpan(span, err) }()

	err = runInTx(ctx, e.pool, e.maxRetries, func(tx pgx.Tx) error {
		var err error
		res, err = e.validateTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *transactionEngine) AdjustStock(ctx context.Context, in AdjustmentInput) (res *ValidationResult, err error) {
	ctx, span := e.startSpan(ctx, "AdjustStock",
		attribute.Int64("product.id", in.ProductID),
		attribute.Int64("warehouse.id", in.WarehouseID))
	defer func() { finishSpan(span, err) }()

	if err := checkAdjustment(in); err != nil {
		return nil, err
	}

	err = runInTx(ctx, e.pool, e.maxRetries, func(tx pgx.Tx) error {
		res, err = e.adjustStockTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CreateProductWithOpeningStock inserts the product and posts its opening
// count in one database transaction, so a failed adjustment leaves no product.
func (e *transactionEngine) CreateProductWithOpeningStock(ctx context.Context, in OpeningStockInput) (p *Product, res *ValidationResult, err error) {
	ctx, span := e.startSpan(ctx, "CreateProductWithOpeningStock",
		attribute.String("product.sku", in.Product.SKU),
		attribute.Int64("warehouse.id", in.WarehouseID))
	defer func() { finishSpan(span, err) }()

	if in.WarehouseID <= 0 {
		return nil, nil, validationErrorf("warehouse_id is required for opening stock")
	}
	if !in.Quantity.IsPositive() {
		return nil, nil, validationErrorf("opening quantity must be positive, got %s", in.Quantity)
	}
	if err := checkQuantity("opening quantity", in.Quantity); err != nil {
		return nil, nil, err
	}

	err = runInTx(ctx, e.pool, e.maxRetries, func(tx pgx.Tx) error {
		var err error
		if p, err = insertProductTx(ctx, tx, in.Product); err != nil {
			return err
		}
		res, err = e.adjustStockTx(ctx, tx, AdjustmentInput{
			ProductID:   p.ID,
			WarehouseID: in.WarehouseID,
			CountedQty:  in.Quantity,
			CreatedBy:   in.CreatedBy,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return p, res, nil
}

func checkAdjustment(in AdjustmentInput) error {
	if in.ProductID <= 0 || in.WarehouseID <= 0 {
		return validationErrorf("product_id and warehouse_id are required for an adjustment")
	}
	if in.CountedQty.IsNegative() {
		return validationErrorf("counted quantity cannot be negative, got %s", in.CountedQty)
	}
	return checkQuantity("counted quantity", in.CountedQty)
}

func (e *transactionEngine) adjustStockTx(ctx context.Context, tx pgx.Tx, in AdjustmentInput) (*ValidationResult, error) {
	counted := in.CountedQty
	id, err := insertTransactionTx(ctx, tx, newTransaction{
		typ:           TypeAdjustment,
		status:        StatusReady,
		toWarehouseID: &in.WarehouseID,
		createdBy:     normalizeOptional(&in.CreatedBy),
		lines:         []LineInput{{ProductID: in.ProductID}},
		countedQty:    &counted,
	})
	if err != nil {
		return nil, err
	}
	return e.validateTx(ctx, tx, id)
}

func (e *transactionEngine) validateTx(ctx context.Context, tx pgx.Tx, id int64) (*ValidationResult, error) {
	txn, err := loadTransaction(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if !CanTransition(txn.Status, StatusDone) {
		return nil, invalidStateErrorf("transaction %s is %s; only ready transactions can be validated",
			txn.ReferenceNumber, txn.Status)
	}

	var unchanged []Balance
	if txn.Type == TypeAdjustment {
		if unchanged, err = captureSystemQtyTx(ctx, tx, txn); err != nil {
			return nil, err
		}
	}

	postings, err := buildPostings(txn)
	if err != nil {
		return nil, err
	}
	balances, err := e.ledger.PostTx(ctx, tx, txn.ID, postings)
	if err != nil {
		return nil, err
	}

	var status string
	err = tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING status, completed_at, updated_at
	`, txn.ID, string(StatusDone)).Scan(&status, &txn.CompletedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transaction done: %w", err)
	}
	txn.Status = TransactionStatus(status)

	return &ValidationResult{Transaction: txn, Balances: append(balances, unchanged...)}, nil
}

// captureSystemQtyTx locks each adjusted stock row, records the on-hand
// quantity it saw and sets the line quantity to the absolute correction.
// Balances of lines that need no correction are returned as-is.
func captureSystemQtyTx(ctx context.Context, tx pgx.Tx, txn *Transaction) ([]Balance, error) {
	if txn.ToWarehouseID == nil {
		return nil, fmt.Errorf("adjustment %s has no warehouse", txn.ReferenceNumber)
	}
	var unchanged []Balance
	for i := range txn.Lines {
		l := &txn.Lines[i]
		if l.CountedQty == nil {
			return nil, fmt.Errorf("adjustment %s line %d has no counted quantity", txn.ReferenceNumber, l.ID)
		}
		bal, err := lockBalanceTx(ctx, tx, l.ProductID, *txn.ToWarehouseID)
		if err != nil {
			return nil, err
		}
		system := bal.OnHand
		delta := l.CountedQty.Sub(system)
		l.SystemQty = &system
		l.Quantity = delta.Abs()

		_, err = tx.Exec(ctx, `UPDATE transaction_lines SET system_qty = $2, quantity = $3 WHERE id = $1`,
			l.ID, system, l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to record system quantity: %w", err)
		}
		if delta.IsZero() {
			unchanged = append(unchanged, bal)
		}
	}
	return unchanged, nil
}

// buildPostings turns a transaction's lines into signed ledger postings.
// Internal transfers produce an outbound and an inbound leg per line.
func buildPostings(txn *Transaction) ([]Posting, error) {
	postings := make([]Posting, 0, len(txn.Lines)*2)
	switch txn.Type {
	case TypeReceipt:
		if txn.ToWarehouseID == nil {
			return nil, fmt.Errorf("receipt %s has no destination warehouse", txn.ReferenceNumber)
		}
		for _, l := range txn.Lines {
			postings = append(postings, Posting{
				ProductID: l.ProductID, WarehouseID: *txn.ToWarehouseID,
				Delta: l.Quantity, Kind: EntryReceipt, UnitCost: l.UnitCost,
			})
		}
	case TypeDelivery:
		if txn.FromWarehouseID == nil {
			return nil, fmt.Errorf("delivery %s has no source warehouse", txn.ReferenceNumber)
		}
		for _, l := range txn.Lines {
			postings = append(postings, Posting{
				ProductID: l.ProductID, WarehouseID: *txn.FromWarehouseID,
				Delta: l.Quantity.Neg(), Kind: EntryDelivery,
			})
		}
	case TypeInternalTransfer:
		if txn.FromWarehouseID == nil || txn.ToWarehouseID == nil {
			return nil, fmt.Errorf("internal transfer %s needs both warehouses", txn.ReferenceNumber)
		}
		for _, l := range txn.Lines {
			postings = append(postings,
				Posting{ProductID: l.ProductID, WarehouseID: *txn.FromWarehouseID, Delta: l.Quantity.Neg(), Kind: EntryTransferOut},
				Posting{ProductID: l.ProductID, WarehouseID: *txn.ToWarehouseID, Delta: l.Quantity, Kind: EntryTransferIn},
			)
		}
	case TypeAdjustment:
		if txn.ToWarehouseID == nil {
			return nil, fmt.Errorf("adjustment %s has no warehouse", txn.ReferenceNumber)
		}
		for _, l := range txn.Lines {
			if l.CountedQty == nil || l.SystemQty == nil {
				return nil, fmt.Errorf("adjustment %s line %d is missing counted or system quantity", txn.ReferenceNumber, l.ID)
			}
			postings = append(postings, Posting{
				ProductID: l.ProductID, WarehouseID: *txn.ToWarehouseID,
				Delta: l.CountedQty.Sub(*l.SystemQty), Kind: EntryAdjustment,
			})
		}
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txn.Type)
	}
	return postings, nil
}

// ── Status transitions ───────────────────────────────────────────────────────

func (e *transactionEngine) MarkReady(ctx context.Context, id int64) (txn *Transaction, err error) {
	ctx, span := e.startSpan(ctx, "MarkReady", attribute.Int64("transaction.id", id))
	defer func() { finishSpan(span, err) }()
	return e.transition(ctx, id, StatusReady)
}

func (e *transactionEngine) Cancel(ctx context.Context, id int64) (txn *Transaction, err error) {
	ctx, span := e.startSpan(ctx, "Cancel", attribute.Int64("transaction.id", id))
	defer func() { finishSpan(span, err) }()
	return e.transition(ctx, id, StatusCanceled)
}

func (e *transactionEngine) transition(ctx context.Context, id int64, to TransactionStatus) (*Transaction, error) {
	var out *Transaction
	err := runInTx(ctx, e.pool, e.maxRetries, func(tx pgx.Tx) error {
		txn, err := loadTransaction(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !CanTransition(txn.Status, to) {
			return invalidStateErrorf("transaction %s cannot move from %s to %s", txn.ReferenceNumber, txn.Status, to)
		}
		var status string
		err = tx.QueryRow(ctx, `
			UPDATE transactions SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING status, updated_at
		`, id, string(to)).Scan(&status, &txn.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update transaction status: %w", err)
		}
		txn.Status = TransactionStatus(status)
		out = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

func (e *transactionEngine) Get(ctx context.Context, id int64) (*Transaction, error) {
	return loadTransaction(ctx, e.pool, id, false)
}

func (e *transactionEngine) GetByReference(ctx context.Context, ref string) (*Transaction, error) {
	txn, err := scanTransaction(e.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference_number = $1`, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundErrorf("transaction %s not found", ref)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	lines, err := loadLines(ctx, e.pool, []int64{txn.ID})
	if err != nil {
		return nil, err
	}
	txn.Lines = lines[txn.ID]
	return txn, nil
}

func (e *transactionEngine) List(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var c conditions
	if filter.Type != nil {
		if !filter.Type.Valid() {
			return nil, validationErrorf("unknown transaction type %q", *filter.Type)
		}
		c.add("t.type = ?", string(*filter.Type))
	}
	if filter.Status != nil {
		if !filter.Status.Valid() {
			return nil, validationErrorf("unknown transaction status %q", *filter.Status)
		}
		c.add("t.status = ?", string(*filter.Status))
	}
	if filter.WarehouseID != nil {
		c.add("(t.from_warehouse_id = ? OR t.to_warehouse_id = ?)", *filter.WarehouseID)
	}
	if filter.Category != nil {
		c.add(`EXISTS (
			SELECT 1 FROM transaction_lines tl
			JOIN products p ON p.id = tl.product_id
			WHERE tl.transaction_id = t.id AND p.category = ?)`, *filter.Category)
	}
	args := append(c.args, clampLimit(filter.Limit))

	rows, err := e.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions t
		%s
		ORDER BY t.id DESC
		LIMIT $%d
	`, transactionColumns, c.where(), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := []Transaction{}
	var ids []int64
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *txn)
		ids = append(ids, txn.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	if len(ids) == 0 {
		return txns, nil
	}

	lines, err := loadLines(ctx, e.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		txns[i].Lines = lines[txns[i].ID]
	}
	return txns, nil
}

const transactionColumns = `id, type, status, reference_number, from_warehouse_id, to_warehouse_id,
	supplier, delivery_address, scheduled_date, completed_at, created_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var typ, status string
	if err := row.Scan(
		&t.ID, &typ, &status, &t.ReferenceNumber, &t.FromWarehouseID, &t.ToWarehouseID,
		&t.Supplier, &t.DeliveryAddress, &t.ScheduledDate, &t.CompletedAt, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Type = TransactionType(typ)
	t.Status = TransactionStatus(status)
	return &t, nil
}

// loadTransaction reads a transaction with its lines. forUpdate locks the
// header row until the surrounding transaction ends; q must then be a pgx.Tx.
func loadTransaction(ctx context.Context, q pgxReader, id int64, forUpdate bool) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	txn, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundErrorf("transaction %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	lines, err := loadLines(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	txn.Lines = lines[id]
	return txn, nil
}

func loadLines(ctx context.Context, q pgxRowQuerier, transactionIDs []int64) (map[int64][]TransactionLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transaction_id, product_id, quantity, unit_cost, counted_qty, system_qty
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, id
	`, transactionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction lines: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]TransactionLine, len(transactionIDs))
	for rows.Next() {
		var l TransactionLine
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.ProductID, &l.Quantity, &l.UnitCost, &l.CountedQty, &l.SystemQty); err != nil {
			return nil, fmt.Errorf("failed to scan transaction line: %w", err)
		}
		out[l.TransactionID] = append(out[l.TransactionID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction lines: %w", err)
	}
	return out, nil
}
