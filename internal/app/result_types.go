package app

import "inventory-service/internal/core"

// HealthResult is returned by Health.
type HealthResult struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// ProductResult is returned by product operations. OpeningStock is set when
// the product was created with an opening quantity.
type ProductResult struct {
	Product      *core.Product          `json:"product"`
	OpeningStock *core.ValidationResult `json:"opening_stock,omitempty"`
}

type ProductListResult struct {
	Products []core.Product `json:"products"`
}

type WarehouseResult struct {
	Warehouse *core.Warehouse `json:"warehouse"`
}

type WarehouseListResult struct {
	Warehouses []core.Warehouse `json:"warehouses"`
}

// TransactionResult is returned by create and status-change operations.
type TransactionResult struct {
	Transaction *core.Transaction `json:"transaction"`
}

type TransactionListResult struct {
	Transactions []core.Transaction `json:"transactions"`
}

// ValidationResult is a completed transaction with the balances it changed.
type ValidationResult = core.ValidationResult

// StockResult carries either one Balance or a list of Levels.
type StockResult struct {
	Balance *core.Balance     `json:"balance,omitempty"`
	Levels  []core.StockLevel `json:"levels,omitempty"`
}

type LedgerResult struct {
	Entries []core.LedgerEntry `json:"entries"`
}

// ReconcileResult is Consistent when no pair disagrees with its ledger.
type ReconcileResult struct {
	Consistent    bool               `json:"consistent"`
	Discrepancies []core.Discrepancy `json:"discrepancies"`
}
