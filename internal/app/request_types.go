package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateProductRequest creates a catalog product. WarehouseID and
// OpeningQuantity must be given together.
type CreateProductRequest struct {
	Name            string
	SKU             string
	Category        *string
	UOM             string
	WarehouseID     *int64
	OpeningQuantity *decimal.Decimal
	CreatedBy       string
}

// UpdateProductRequest changes descriptive fields; nil means unchanged.
type UpdateProductRequest struct {
	Name     *string
	Category *string
	UOM      *string
}

type CreateWarehouseRequest struct {
	Name      string
	ShortCode string
	Address   *string
}

// LineRequest is a single product line on a transaction.
type LineRequest struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  *decimal.Decimal
}

type CreateReceiptRequest struct {
	Lines         []LineRequest
	Supplier      string
	ToWarehouseID int64
	ScheduledDate *time.Time
	Draft         bool
	CreatedBy     string
}

type CreateDeliveryRequest struct {
	Lines           []LineRequest
	FromWarehouseID int64
	DeliveryAddress string
	ScheduledDate   *time.Time
	Draft           bool
	CreatedBy       string
}

type CreateTransferRequest struct {
	Lines           []LineRequest
	FromWarehouseID int64
	ToWarehouseID   int64
	ScheduledDate   *time.Time
	Draft           bool
	CreatedBy       string
}

type AdjustStockRequest struct {
	ProductID   int64
	WarehouseID int64
	CountedQty  decimal.Decimal
	CreatedBy   string
}

// ListTransactionsRequest filters transactions. Type and Status are the
// lowercase names (receipt, delivery, ...; draft, ready, ...).
type ListTransactionsRequest struct {
	Type        *string
	Status      *string
	WarehouseID *int64
	Category    *string
	Limit       int
}

type StockQuery struct {
	ProductID   *int64
	WarehouseID *int64
	Category    *string
}

type LedgerQuery struct {
	WarehouseID   *int64
	ProductID     *int64
	TransactionID *int64
	Limit         int
}
