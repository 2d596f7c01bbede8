package web

import (
	"net/http"
	"time"

	"inventory-service/internal/app"

	"github.com/shopspring/decimal"
)

type lineBody struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  *decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
}

// transactionBody is shared by the three document endpoints. A single-line
// document may be sent flat, with product_id and quantity at the top level.
type transactionBody struct {
	Lines           []lineBody       `json:"lines" validate:"omitempty,dive"`
	ProductID       int64            `json:"product_id" validate:"omitempty,gt=0"`
	Quantity        *decimal.Decimal `json:"quantity"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	FromWarehouseID int64            `json:"from_warehouse_id" validate:"omitempty,gt=0"`
	ToWarehouseID   int64            `json:"to_warehouse_id" validate:"omitempty,gt=0"`
	Supplier        string           `json:"supplier" validate:"max=255"`
	DeliveryAddress string           `json:"delivery_address" validate:"max=1024"`
	ScheduledDate   *time.Time       `json:"scheduled_date"`
	Draft           bool             `json:"draft"`
	CreatedBy       string           `json:"created_by" validate:"max=128"`
}

func (b transactionBody) lines() []app.LineRequest {
	if len(b.Lines) == 0 && b.ProductID > 0 && b.Quantity != nil {
		return []app.LineRequest{{ProductID: b.ProductID, Quantity: *b.Quantity, UnitCost: b.UnitCost}}
	}
	out := make([]app.LineRequest, len(b.Lines))
	for i, l := range b.Lines {
		out[i] = app.LineRequest{ProductID: l.ProductID, Quantity: *l.Quantity, UnitCost: l.UnitCost}
	}
	return out
}

type adjustmentBody struct {
	ProductID   int64            `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64            `json:"warehouse_id" validate:"required,gt=0"`
	CountedQty  *decimal.Decimal `json:"counted_qty" validate:"required"`
	CreatedBy   string           `json:"created_by" validate:"max=128"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var body transactionBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.CreateReceipt(r.Context(), app.CreateReceiptRequest{
		Lines:         body.lines(),
		Supplier:      body.Supplier,
		ToWarehouseID: body.ToWarehouseID,
		ScheduledDate: body.ScheduledDate,
		Draft:         body.Draft,
		CreatedBy:     body.CreatedBy,
	})
	h.writeCreated(w, r, res, err)
}

func (h *Handler) createDelivery(w http.ResponseWriter, r *http.Request) {
	var body transactionBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.CreateDelivery(r.Context(), app.CreateDeliveryRequest{
		Lines:           body.lines(),
		FromWarehouseID: body.FromWarehouseID,
		DeliveryAddress: body.DeliveryAddress,
		ScheduledDate:   body.ScheduledDate,
		Draft:           body.Draft,
		CreatedBy:       body.CreatedBy,
	})
	h.writeCreated(w, r, res, err)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var body transactionBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.CreateInternalTransfer(r.Context(), app.CreateTransferRequest{
		Lines:           body.lines(),
		FromWarehouseID: body.FromWarehouseID,
		ToWarehouseID:   body.ToWarehouseID,
		ScheduledDate:   body.ScheduledDate,
		Draft:           body.Draft,
		CreatedBy:       body.CreatedBy,
	})
	h.writeCreated(w, r, res, err)
}

func (h *Handler) writeCreated(w http.ResponseWriter, r *http.Request, res *app.TransactionResult, err error) {
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var body adjustmentBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.AdjustStock(r.Context(), app.AdjustStockRequest{
		ProductID:   body.ProductID,
		WarehouseID: body.WarehouseID,
		CountedQty:  *body.CountedQty,
		CreatedBy:   body.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := queryInt64(r, "warehouse_id")
	if err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	res, err := h.svc.ListTransactions(r.Context(), app.ListTransactionsRequest{
		Type:        queryString(r, "type"),
		Status:      queryString(r, "status"),
		WarehouseID: warehouseID,
		Category:    queryString(r, "category"),
		Limit:       limit,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetTransaction(r.Context(), pathRef(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

// validateTransaction posts the transaction and returns it with the balances it touched.
func (h *Handler) validateTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ValidateTransaction(r.Context(), pathRef(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.MarkTransactionReady(r.Context(), pathRef(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelTransaction(r.Context(), pathRef(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}
