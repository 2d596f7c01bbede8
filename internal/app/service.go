package app

import (
	"context"

	"inventory-service/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples transport from business logic; implementations contain no
// HTTP or terminal concerns.
//
// Transaction operations accept ref as either the numeric id or the
// reference number (e.g. "W1/IN/3").
type ApplicationService interface {
	// Health reports database and cache reachability.
	Health(ctx context.Context) (*HealthResult, error)

	// CreateProduct creates a product. When the request carries an opening
	// quantity the stock enters through an adjustment at that warehouse.
	CreateProduct(ctx context.Context, req CreateProductRequest) (*ProductResult, error)
	GetProduct(ctx context.Context, id int64) (*ProductResult, error)
	ListProducts(ctx context.Context, category *string) (*ProductListResult, error)
	UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (*ProductResult, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*WarehouseResult, error)
	GetWarehouse(ctx context.Context, id int64) (*WarehouseResult, error)
	ListWarehouses(ctx context.Context) (*WarehouseListResult, error)
	DeleteWarehouse(ctx context.Context, id int64) error

	CreateReceipt(ctx context.Context, req CreateReceiptRequest) (*TransactionResult, error)
	CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (*TransactionResult, error)
	CreateInternalTransfer(ctx context.Context, req CreateTransferRequest) (*TransactionResult, error)
	// AdjustStock sets a counted quantity and posts the difference immediately.
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*ValidationResult, error)

	// ValidateTransaction posts a ready transaction to the ledger and marks it done.
	ValidateTransaction(ctx context.Context, ref string) (*ValidationResult, error)
	MarkTransactionReady(ctx context.Context, ref string) (*TransactionResult, error)
	CancelTransaction(ctx context.Context, ref string) (*TransactionResult, error)
	GetTransaction(ctx context.Context, ref string) (*TransactionResult, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (*TransactionListResult, error)

	// GetStock returns a single balance when both product and warehouse are
	// given, otherwise the matching stock rows.
	GetStock(ctx context.Context, q StockQuery) (*StockResult, error)
	GetLedger(ctx context.Context, q LedgerQuery) (*LedgerResult, error)
	// Reconcile compares every stock row with the sum of its ledger entries.
	Reconcile(ctx context.Context) (*ReconcileResult, error)

	// GetDashboardKPIs returns headline counts, served from cache when enabled.
	GetDashboardKPIs(ctx context.Context) (*core.DashboardKPIs, error)
	LowStock(ctx context.Context) (*StockResult, error)
}
