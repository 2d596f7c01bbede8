package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inventory-service/internal/adapters/web"
	"inventory-service/internal/app"
	"inventory-service/internal/core"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService implements the handful of ApplicationService methods the
// tests call; anything else panics through the nil embedded interface.
type fakeService struct {
	app.ApplicationService

	receipt    app.CreateReceiptRequest
	adjust     *app.AdjustStockRequest
	stockQuery app.StockQuery
	ledgerQ    app.LedgerQuery
	ref        string
	err        error
}

func (f *fakeService) Health(context.Context) (*app.HealthResult, error) {
	if f.err != nil {
		return &app.HealthResult{Status: "degraded", Database: "unreachable"}, f.err
	}
	return &app.HealthResult{Status: "ok", Database: "ok", Cache: "disabled"}, nil
}

func (f *fakeService) CreateProduct(_ context.Context, req app.CreateProductRequest) (*app.ProductResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.ProductResult{Product: &core.Product{ID: 1, Name: req.Name, SKU: req.SKU}}, nil
}

func (f *fakeService) CreateReceipt(_ context.Context, req app.CreateReceiptRequest) (*app.TransactionResult, error) {
	f.receipt = req
	if f.err != nil {
		return nil, f.err
	}
	return &app.TransactionResult{Transaction: &core.Transaction{ID: 5, Type: core.TypeReceipt, Status: core.StatusReady, ReferenceNumber: "WH/IN/1"}}, nil
}

func (f *fakeService) AdjustStock(_ context.Context, req app.AdjustStockRequest) (*app.ValidationResult, error) {
	f.adjust = &req
	return &app.ValidationResult{Transaction: &core.Transaction{ID: 6, Type: core.TypeAdjustment, Status: core.StatusDone}}, nil
}

func (f *fakeService) ValidateTransaction(_ context.Context, ref string) (*app.ValidationResult, error) {
	f.ref = ref
	if f.err != nil {
		return nil, f.err
	}
	return &app.ValidationResult{
		Transaction: &core.Transaction{ID: 5, Status: core.StatusDone},
		Balances:    []core.Balance{{ProductID: 1, WarehouseID: 1, OnHand: decimal.NewFromInt(50), FreeToUse: decimal.NewFromInt(50)}},
	}, nil
}

func (f *fakeService) GetStock(_ context.Context, q app.StockQuery) (*app.StockResult, error) {
	f.stockQuery = q
	return &app.StockResult{Levels: []core.StockLevel{}}, nil
}

func (f *fakeService) GetLedger(_ context.Context, q app.LedgerQuery) (*app.LedgerResult, error) {
	f.ledgerQ = q
	return &app.LedgerResult{}, nil
}

func (f *fakeService) GetProduct(context.Context, int64) (*app.ProductResult, error) {
	panic("boom")
}

func newServer(t *testing.T, svc *fakeService, limit int64) http.Handler {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	return web.NewHandler(svc, logger, web.Options{RequestBodyLimit: limit})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newServer(t, &fakeService{}, 0), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = do(t, newServer(t, &fakeService{err: errors.New("down")}, 0), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestCreateReceipt_FlatBodyBecomesOneLine(t *testing.T) {
	svc := &fakeService{}
	rec, body := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/receipt",
		`{"product_id": 3, "quantity": "12.5", "to_warehouse_id": 2, "supplier": "Acme"}`)

	require.Equal(t, http.StatusCreated, rec.Code, body)
	require.Len(t, svc.receipt.Lines, 1)
	assert.Equal(t, int64(3), svc.receipt.Lines[0].ProductID)
	assert.True(t, svc.receipt.Lines[0].Quantity.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(2), svc.receipt.ToWarehouseID)
	txn := body["transaction"].(map[string]any)
	assert.Equal(t, "WH/IN/1", txn["reference_number"])
}

func TestCreateReceipt_LinesArray(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/receipt",
		`{"to_warehouse_id": 1, "lines": [{"product_id": 1, "quantity": 5}, {"product_id": 2, "quantity": "1.25", "unit_cost": "3"}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.receipt.Lines, 2)
	require.NotNil(t, svc.receipt.Lines[1].UnitCost)
	assert.True(t, svc.receipt.Lines[1].UnitCost.Equal(decimal.NewFromInt(3)))
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		code    string
		message string
	}{
		{"missing sku", "/products", `{"name": "Bolt"}`, http.StatusBadRequest, "VALIDATION_ERROR", "sku is required"},
		{"bad line product", "/transactions/receipt", `{"lines": [{"product_id": 0, "quantity": 1}]}`, http.StatusBadRequest, "VALIDATION_ERROR", "lines[0].product_id is required"},
		{"missing line quantity", "/transactions/receipt", `{"to_warehouse_id": 1, "lines": [{"product_id": 1}]}`, http.StatusBadRequest, "VALIDATION_ERROR", "lines[0].quantity is required"},
		{"missing counted quantity", "/transactions/adjustment", `{"product_id": 1, "warehouse_id": 1}`, http.StatusBadRequest, "VALIDATION_ERROR", "counted_qty is required"},
		{"malformed json", "/products", `{"name": `, http.StatusBadRequest, "BAD_REQUEST", ""},
		{"bad decimal", "/transactions/receipt", `{"lines": [{"product_id": 1, "quantity": "abc"}]}`, http.StatusBadRequest, "BAD_REQUEST", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, newServer(t, &fakeService{}, 0), http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["request_id"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["error"])
			}
		})
	}
}

func TestRequestValidation_MissingCountDoesNotReachService(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/adjustment", `{"product_id": 1, "warehouse_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.adjust)
}

func TestAdjustStock_ExplicitZeroCount(t *testing.T) {
	svc := &fakeService{}
	rec, body := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/adjustment",
		`{"product_id": 1, "warehouse_id": 2, "counted_qty": 0}`)

	require.Equal(t, http.StatusCreated, rec.Code, body)
	require.NotNil(t, svc.adjust)
	assert.True(t, svc.adjust.CountedQty.IsZero())
	assert.Equal(t, int64(2), svc.adjust.WarehouseID)
}

func TestRequestBodyLimit(t *testing.T) {
	big := `{"name": "` + strings.Repeat("x", 512) + `", "sku": "A"}`
	rec, body := do(t, newServer(t, &fakeService{}, 64), http.MethodPost, "/products", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "REQUEST_TOO_LARGE", body["code"])
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.Errorf(core.KindValidation, "quantity must be positive"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{core.Errorf(core.KindNotFound, "transaction 9 not found"), http.StatusNotFound, "NOT_FOUND"},
		{core.Errorf(core.KindInvalidState, "transaction 9 is already done"), http.StatusConflict, "INVALID_STATE"},
		{&core.InsufficientStockError{ProductID: 1, WarehouseID: 2, Requested: "10", Available: "4"}, http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK"},
		{core.Errorf(core.KindConflict, "sku exists"), http.StatusConflict, "CONFLICT"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			rec, body := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/9/validate", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["error"])
			}
		})
	}
}

func TestInsufficientStockMessage(t *testing.T) {
	err := &core.InsufficientStockError{ProductID: 1, WarehouseID: 2, Requested: "10", Available: "4"}
	svc := &fakeService{err: err}
	_, body := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/1/validate", "")
	assert.Equal(t, err.Error(), body["error"])
}

func TestValidateAcceptsEscapedReference(t *testing.T) {
	svc := &fakeService{}
	rec, body := do(t, newServer(t, svc, 0), http.MethodPost, "/transactions/WH%2FIN%2F3/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WH/IN/3", svc.ref)
	assert.Len(t, body["balances"], 1)
}

func TestStockQuery(t *testing.T) {
	svc := &fakeService{}
	h := newServer(t, svc, 0)

	rec, _ := do(t, h, http.MethodGet, "/stock?product_id=4&warehouse_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.stockQuery.ProductID)
	assert.Equal(t, int64(4), *svc.stockQuery.ProductID)
	assert.Equal(t, int64(2), *svc.stockQuery.WarehouseID)

	rec, body := do(t, h, http.MethodGet, "/stock?product_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", body["code"])
}

func TestLedgerQuery(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newServer(t, svc, 0), http.MethodGet, "/ledger?transaction_id=7&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.ledgerQ.TransactionID)
	assert.Equal(t, int64(7), *svc.ledgerQ.TransactionID)
	assert.Nil(t, svc.ledgerQ.ProductID)
	assert.Equal(t, 20, svc.ledgerQ.Limit)
}

func TestInvalidPathID(t *testing.T) {
	rec, body := do(t, newServer(t, &fakeService{}, 0), http.MethodGet, "/products/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", body["code"])
}

func TestRecovererReturns500(t *testing.T) {
	rec, body := do(t, newServer(t, &fakeService{}, 0), http.MethodGet, "/products/1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
}

func TestCORS(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	h := web.NewHandler(&fakeService{}, logger, web.Options{AllowedOrigins: "https://ops.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/stock", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/stock", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
