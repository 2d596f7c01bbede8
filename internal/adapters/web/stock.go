package web

import (
	"net/http"

	"inventory-service/internal/app"
)

// getStock returns one balance when both product_id and warehouse_id are
// given, otherwise the matching stock rows.
func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	var q app.StockQuery
	var err error
	if q.ProductID, err = queryInt64(r, "product_id"); err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if q.WarehouseID, err = queryInt64(r, "warehouse_id"); err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	q.Category = queryString(r, "category")

	res, err := h.svc.GetStock(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	var q app.LedgerQuery
	var err error
	for name, dst := range map[string]**int64{
		"warehouse_id":   &q.WarehouseID,
		"product_id":     &q.ProductID,
		"transaction_id": &q.TransactionID,
	} {
		if *dst, err = queryInt64(r, name); err != nil {
			writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}
	if q.Limit, err = queryLimit(r); err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	res, err := h.svc.GetLedger(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) dashboardKPIs(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetDashboardKPIs(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}
