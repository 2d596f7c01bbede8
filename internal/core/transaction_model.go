package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeReceipt          TransactionType = "receipt"
	TypeDelivery         TransactionType = "delivery"
	TypeInternalTransfer TransactionType = "internal_transfer"
	TypeAdjustment       TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	_, ok := referenceCodes[t]
	return ok
}

// referenceCodes is the middle segment of a reference number per type.
var referenceCodes = map[TransactionType]string{
	TypeReceipt:          "IN",
	TypeDelivery:         "OUT",
	TypeInternalTransfer: "INT",
	TypeAdjustment:       "ADJ",
}

type TransactionStatus string

const (
	StatusDraft    TransactionStatus = "draft"
	StatusReady    TransactionStatus = "ready"
	StatusDone     TransactionStatus = "done"
	StatusCanceled TransactionStatus = "canceled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusDone, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusCanceled
}

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusDraft: {StatusReady, StatusCanceled},
	StatusReady: {StatusDone, StatusCanceled},
}

// CanTransition reports whether a transaction in status from may move to status to.
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transaction is a stock-moving document. Receipts use only ToWarehouseID,
// deliveries only FromWarehouseID, adjustments record their warehouse in
// ToWarehouseID, and internal transfers use both.
type Transaction struct {
	ID              int64             `json:"id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	ReferenceNumber string            `json:"reference_number"`
	FromWarehouseID *int64            `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   *int64            `json:"to_warehouse_id,omitempty"`
	Supplier        *string           `json:"supplier,omitempty"`
	DeliveryAddress *string           `json:"delivery_address,omitempty"`
	ScheduledDate   *time.Time        `json:"scheduled_date,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedBy       *string           `json:"created_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Lines           []TransactionLine `json:"lines"`
}

// TransactionLine is one product on a transaction. For adjustments Quantity
// is the absolute correction and is filled in at validation together with
// SystemQty, the on-hand quantity observed under lock.
type TransactionLine struct {
	ID            int64            `json:"id"`
	TransactionID int64            `json:"transaction_id"`
	ProductID     int64            `json:"product_id"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	CountedQty    *decimal.Decimal `json:"counted_qty,omitempty"`
	SystemQty     *decimal.Decimal `json:"system_qty,omitempty"`
}

type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  *decimal.Decimal
}

// ReceiptInput creates an inbound transaction. Draft leaves it in draft
// instead of ready.
type ReceiptInput struct {
	Lines         []LineInput
	Supplier      string
	ToWarehouseID int64
	ScheduledDate *time.Time
	Draft         bool
	CreatedBy     string
}

type DeliveryInput struct {
	Lines           []LineInput
	FromWarehouseID int64
	DeliveryAddress string
	ScheduledDate   *time.Time
	Draft           bool
	CreatedBy       string
}

type TransferInput struct {
	Lines           []LineInput
	FromWarehouseID int64
	ToWarehouseID   int64
	ScheduledDate   *time.Time
	Draft           bool
	CreatedBy       string
}

type AdjustmentInput struct {
	ProductID   int64
	WarehouseID int64
	CountedQty  decimal.Decimal
	CreatedBy   string
}

// OpeningStockInput creates a product with an initial count at one warehouse.
type OpeningStockInput struct {
	Product     ProductInput
	WarehouseID int64
	Quantity    decimal.Decimal
	CreatedBy   string
}

// TransactionFilter narrows List. WarehouseID matches either side.
type TransactionFilter struct {
	Type        *TransactionType
	Status      *TransactionStatus
	WarehouseID *int64
	Category    *string
	Limit       int
}

// ValidationResult is a completed transaction and the balances it touched.
type ValidationResult struct {
	Transaction *Transaction `json:"transaction"`
	Balances    []Balance    `json:"balances"`
}

// Quantities are stored as NUMERIC(18,4): at most 4 decimal places and an
// absolute value below 10^14.
const quantityScale = 4

var maxQuantity = decimal.New(1, 14)

func checkQuantity(field string, q decimal.Decimal) error {
	if !q.Equal(q.Truncate(quantityScale)) {
		return validationErrorf("%s %s has more than %d decimal places", field, q, quantityScale)
	}
	if q.Abs().GreaterThanOrEqual(maxQuantity) {
		return validationErrorf("%s %s must be less than %s", field, q, maxQuantity)
	}
	return nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return validationErrorf("at least one line is required")
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return validationErrorf("line %d: product_id is required", i+1)
		}
		if !l.Quantity.IsPositive() {
			return validationErrorf("line %d: quantity must be positive, got %s", i+1, l.Quantity)
		}
		if err := checkQuantity(fmt.Sprintf("line %d: quantity", i+1), l.Quantity); err != nil {
			return err
		}
		if l.UnitCost != nil {
			if l.UnitCost.IsNegative() {
				return validationErrorf("line %d: unit cost cannot be negative, got %s", i+1, l.UnitCost)
			}
			if err := checkQuantity(fmt.Sprintf("line %d: unit cost", i+1), *l.UnitCost); err != nil {
				return err
			}
		}
	}
	return nil
}

func lineProductIDs(lines []LineInput) []int64 {
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}
