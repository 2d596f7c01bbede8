package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the stock row for one (product, warehouse) pair.
// A pair with no row has a zero Balance.
type Balance struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	FreeToUse   decimal.Decimal `json:"free_to_use"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// StockLevel is a read view of a stock row joined with product and warehouse info.
type StockLevel struct {
	Balance
	SKU           string    `json:"sku"`
	ProductName   string    `json:"product_name"`
	WarehouseCode string    `json:"warehouse_code"`
	WarehouseName string    `json:"warehouse_name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type EntryKind string

const (
	EntryReceipt     EntryKind = "receipt"
	EntryDelivery    EntryKind = "delivery"
	EntryTransferOut EntryKind = "transfer_out"
	EntryTransferIn  EntryKind = "transfer_in"
	EntryAdjustment  EntryKind = "adjustment"
)

// LedgerEntry is one immutable quantity change.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	TransactionID   int64           `json:"transaction_id"`
	ReferenceNumber string          `json:"reference_number"`
	ProductID       int64           `json:"product_id"`
	SKU             string          `json:"sku"`
	WarehouseID     int64           `json:"warehouse_id"`
	WarehouseCode   string          `json:"warehouse_code"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	Kind            EntryKind       `json:"kind"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Posting is a requested change to one stock row. UnitCost, when set on a
// positive delta, is folded into the row's weighted-average cost.
type Posting struct {
	ProductID   int64
	WarehouseID int64
	Delta       decimal.Decimal
	Kind        EntryKind
	UnitCost    *decimal.Decimal
}

type StockFilter struct {
	ProductID   *int64
	WarehouseID *int64
	Category    *string
}

type LedgerFilter struct {
	WarehouseID   *int64
	ProductID     *int64
	TransactionID *int64
	Limit         int
}

// Discrepancy is a pair whose stock row disagrees with the sum of its ledger entries.
type Discrepancy struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	LedgerSum   decimal.Decimal `json:"ledger_sum"`
}
