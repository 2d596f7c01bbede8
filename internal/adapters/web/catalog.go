package web

import (
	"net/http"

	"inventory-service/internal/app"

	"github.com/shopspring/decimal"
)

type createProductBody struct {
	Name        string           `json:"name" validate:"required,max=255"`
	SKU         string           `json:"sku" validate:"required,max=64"`
	Category    *string          `json:"category" validate:"omitempty,max=128"`
	UOM         string           `json:"uom" validate:"max=32"`
	WarehouseID *int64           `json:"warehouse_id" validate:"omitempty,gt=0"`
	Quantity    *decimal.Decimal `json:"quantity"`
	CreatedBy   string           `json:"created_by" validate:"max=128"`
}

type updateProductBody struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	Category *string `json:"category" validate:"omitempty,max=128"`
	UOM      *string `json:"uom" validate:"omitempty,min=1,max=32"`
}

type createWarehouseBody struct {
	Name      string  `json:"name" validate:"required,max=255"`
	ShortCode string  `json:"short_code" validate:"required,max=16"`
	Address   *string `json:"address"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var body createProductBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.CreateProduct(r.Context(), app.CreateProductRequest{
		Name:            body.Name,
		SKU:             body.SKU,
		Category:        body.Category,
		UOM:             body.UOM,
		WarehouseID:     body.WarehouseID,
		OpeningQuantity: body.Quantity,
		CreatedBy:       body.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListProducts(r.Context(), queryString(r, "category"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body updateProductBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.UpdateProduct(r.Context(), id, app.UpdateProductRequest{
		Name:     body.Name,
		Category: body.Category,
		UOM:      body.UOM,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteProduct(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var body createWarehouseBody
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	res, err := h.svc.CreateWarehouse(r.Context(), app.CreateWarehouseRequest{
		Name:      body.Name,
		ShortCode: body.ShortCode,
		Address:   body.Address,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListWarehouses(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetWarehouse(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) deleteWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteWarehouse(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
