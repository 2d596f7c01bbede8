package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory-service/internal/app"
	"inventory-service/internal/cache"
	"inventory-service/internal/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeCatalog struct {
	core.CatalogService
	products   map[int64]*core.Product
	warehouses map[int64]*core.Warehouse
	nextID     int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:   map[int64]*core.Product{},
		warehouses: map[int64]*core.Warehouse{1: {ID: 1, Name: "Main", ShortCode: "WH"}},
	}
}

func (c *fakeCatalog) CreateProduct(_ context.Context, in core.ProductInput) (*core.Product, error) {
	c.nextID++
	p := &core.Product{ID: c.nextID, Name: in.Name, SKU: in.SKU, UOM: in.UOM}
	c.products[p.ID] = p
	return p, nil
}

func (c *fakeCatalog) GetWarehouse(_ context.Context, id int64) (*core.Warehouse, error) {
	w, ok := c.warehouses[id]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "warehouse %d not found", id)
	}
	return w, nil
}

type fakeEngine struct {
	core.TransactionEngine
	byRef      map[string]*core.Transaction
	validated  []int64
	openingErr error
	openings   []core.OpeningStockInput
	lastFilter core.TransactionFilter
}

func (e *fakeEngine) CreateProductWithOpeningStock(_ context.Context, in core.OpeningStockInput) (*core.Product, *core.ValidationResult, error) {
	e.openings = append(e.openings, in)
	if e.openingErr != nil {
		return nil, nil, e.openingErr
	}
	p := &core.Product{ID: 50, Name: in.Product.Name, SKU: in.Product.SKU, UOM: in.Product.UOM}
	return p, &core.ValidationResult{
		Transaction: &core.Transaction{ID: 99, Type: core.TypeAdjustment, Status: core.StatusDone, ReferenceNumber: "WH/ADJ/1"},
		Balances:    []core.Balance{{ProductID: p.ID, WarehouseID: in.WarehouseID, OnHand: in.Quantity, FreeToUse: in.Quantity}},
	}, nil
}

func (e *fakeEngine) GetByReference(_ context.Context, ref string) (*core.Transaction, error) {
	t, ok := e.byRef[ref]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "transaction %q not found", ref)
	}
	return t, nil
}

func (e *fakeEngine) Validate(_ context.Context, id int64) (*core.ValidationResult, error) {
	e.validated = append(e.validated, id)
	return &core.ValidationResult{Transaction: &core.Transaction{ID: id, Status: core.StatusDone}}, nil
}

func (e *fakeEngine) List(_ context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	e.lastFilter = f
	return nil, nil
}

type fakeLedger struct {
	core.StockLedger
	balanceCalls  int
	balancesCalls int
	discrepancies []core.Discrepancy
}

func (l *fakeLedger) Balance(_ context.Context, p, w int64) (core.Balance, error) {
	l.balanceCalls++
	return core.Balance{ProductID: p, WarehouseID: w}, nil
}

func (l *fakeLedger) Balances(context.Context, core.StockFilter) ([]core.StockLevel, error) {
	l.balancesCalls++
	return []core.StockLevel{{}}, nil
}

func (l *fakeLedger) Reconcile(context.Context) ([]core.Discrepancy, error) {
	return l.discrepancies, nil
}

func (l *fakeLedger) PostTx(context.Context, pgx.Tx, int64, []core.Posting) ([]core.Balance, error) {
	return nil, errors.New("not used")
}

type fakeReporting struct {
	core.ReportingService
	calls int
	// during runs once inside the next DashboardKPIs call.
	during func()
}

func (r *fakeReporting) DashboardKPIs(_ context.Context, threshold decimal.Decimal) (*core.DashboardKPIs, error) {
	r.calls++
	if fn := r.during; fn != nil {
		r.during = nil
		fn()
	}
	return &core.DashboardKPIs{TotalProducts: int64(r.calls), LowStockThreshold: threshold}, nil
}

type harness struct {
	svc       app.ApplicationService
	catalog   *fakeCatalog
	engine    *fakeEngine
	ledger    *fakeLedger
	reporting *fakeReporting
	hook      *logtest.Hook
}

func newHarness(t *testing.T, rdb *redis.Client) *harness {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	h := &harness{
		catalog:   newFakeCatalog(),
		engine:    &fakeEngine{byRef: map[string]*core.Transaction{"WH/IN/1": {ID: 7}}},
		ledger:    &fakeLedger{},
		reporting: &fakeReporting{},
		hook:      hook,
	}
	h.svc = app.NewAppService(
		fakePinger{}, h.catalog, h.ledger, h.engine, h.reporting,
		cache.New(rdb, "test:"),
		app.Settings{LowStockThreshold: decimal.NewFromInt(5), KPICacheTTL: time.Minute},
		logger,
	)
	return h
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestCreateProduct_WithOpeningStock(t *testing.T) {
	h := newHarness(t, nil)
	wh := int64(1)
	qty := decimal.NewFromInt(12)

	res, err := h.svc.CreateProduct(context.Background(), app.CreateProductRequest{
		Name: "Bolt", SKU: "B-1", UOM: "pcs", WarehouseID: &wh, OpeningQuantity: &qty, CreatedBy: "ana",
	})
	require.NoError(t, err)
	require.NotNil(t, res.OpeningStock)
	assert.Equal(t, "WH/ADJ/1", res.OpeningStock.Transaction.ReferenceNumber)
	assert.Equal(t, int64(50), res.Product.ID)
	require.Len(t, h.engine.openings, 1)
	assert.Equal(t, "B-1", h.engine.openings[0].Product.SKU)
	assert.True(t, h.engine.openings[0].Quantity.Equal(qty))
	assert.Equal(t, "ana", h.engine.openings[0].CreatedBy)
	// Product and count go through the engine together; the catalog is not touched.
	assert.Empty(t, h.catalog.products)
}

func TestCreateProduct_OpeningStockFailureReturnsError(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.openingErr = core.Errorf(core.KindValidation, "opening quantity 1.00001 has more than 4 decimal places")
	wh := int64(1)
	qty := decimal.RequireFromString("1.00001")

	res, err := h.svc.CreateProduct(context.Background(), app.CreateProductRequest{
		Name: "Nut", SKU: "N-1", UOM: "pcs", WarehouseID: &wh, OpeningQuantity: &qty,
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Len(t, h.engine.openings, 1)
	assert.Empty(t, h.catalog.products)
}

func TestCreateProduct_ZeroOpeningQuantitySkipsAdjustment(t *testing.T) {
	h := newHarness(t, nil)
	wh := int64(1)
	zero := decimal.Zero

	res, err := h.svc.CreateProduct(context.Background(), app.CreateProductRequest{
		Name: "Washer", SKU: "W-1", UOM: "pcs", WarehouseID: &wh, OpeningQuantity: &zero,
	})
	require.NoError(t, err)
	assert.Nil(t, res.OpeningStock)
	assert.Empty(t, h.engine.openings)
	assert.Len(t, h.catalog.products, 1)
}

func TestCreateProduct_OpeningStockValidation(t *testing.T) {
	h := newHarness(t, nil)
	wh := int64(1)
	missing := int64(42)
	neg := decimal.NewFromInt(-1)
	qty := decimal.NewFromInt(1)

	tests := []struct {
		name string
		req  app.CreateProductRequest
		kind core.ErrorKind
	}{
		{"warehouse without quantity", app.CreateProductRequest{Name: "x", SKU: "x", WarehouseID: &wh}, core.KindValidation},
		{"quantity without warehouse", app.CreateProductRequest{Name: "x", SKU: "x", OpeningQuantity: &qty}, core.KindValidation},
		{"negative quantity", app.CreateProductRequest{Name: "x", SKU: "x", WarehouseID: &wh, OpeningQuantity: &neg}, core.KindValidation},
		{"unknown warehouse", app.CreateProductRequest{Name: "x", SKU: "x", WarehouseID: &missing, OpeningQuantity: &qty}, core.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateProduct(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
		})
	}
	assert.Empty(t, h.catalog.products)
}

func TestValidateTransaction_ResolvesIDOrReference(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.ValidateTransaction(ctx, "12")
	require.NoError(t, err)
	_, err = h.svc.ValidateTransaction(ctx, "WH/IN/1")
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 7}, h.engine.validated)

	_, err = h.svc.ValidateTransaction(ctx, "WH/IN/404")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = h.svc.ValidateTransaction(ctx, "  ")
	assert.ErrorIs(t, err, core.ErrValidation)

	var validated int
	for _, e := range h.hook.AllEntries() {
		if e.Message == "transaction validated" {
			validated++
		}
	}
	assert.Equal(t, 2, validated)
}

func TestListTransactions_NormalizesEnums(t *testing.T) {
	h := newHarness(t, nil)
	typ, status := "Receipt", "READY"

	_, err := h.svc.ListTransactions(context.Background(), app.ListTransactionsRequest{Type: &typ, Status: &status, Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, h.engine.lastFilter.Type)
	assert.Equal(t, core.TypeReceipt, *h.engine.lastFilter.Type)
	assert.Equal(t, core.StatusReady, *h.engine.lastFilter.Status)
	assert.Equal(t, 5, h.engine.lastFilter.Limit)
}

func TestGetStock_SingleBalanceOrLevels(t *testing.T) {
	h := newHarness(t, nil)
	p, w := int64(1), int64(2)

	res, err := h.svc.GetStock(context.Background(), app.StockQuery{ProductID: &p, WarehouseID: &w})
	require.NoError(t, err)
	require.NotNil(t, res.Balance)
	assert.Nil(t, res.Levels)

	res, err = h.svc.GetStock(context.Background(), app.StockQuery{WarehouseID: &w})
	require.NoError(t, err)
	assert.Nil(t, res.Balance)
	assert.Len(t, res.Levels, 1)
	assert.Equal(t, 1, h.ledger.balanceCalls)
	assert.Equal(t, 1, h.ledger.balancesCalls)
}

func TestReconcile_LogsDiscrepancies(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Consistent)

	h.ledger.discrepancies = []core.Discrepancy{{ProductID: 1, WarehouseID: 1}}
	res, err = h.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	require.NotNil(t, h.hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, h.hook.LastEntry().Level)
}

func TestDashboardKPIs_CachedUntilMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, rdb)
	ctx := context.Background()

	first, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)
	second, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TotalProducts, second.TotalProducts)
	assert.Equal(t, 1, h.reporting.calls)
	assert.True(t, second.LowStockThreshold.Equal(decimal.NewFromInt(5)))

	_, err = h.svc.ValidateTransaction(ctx, "3")
	require.NoError(t, err)

	third, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.reporting.calls)
	assert.Equal(t, int64(2), third.TotalProducts)
}

func TestDashboardKPIs_MutationDuringComputeIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, rdb)
	ctx := context.Background()

	// A validation lands after the snapshot started but before it is cached.
	h.reporting.during = func() {
		_, err := h.svc.ValidateTransaction(ctx, "3")
		require.NoError(t, err)
	}
	_, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)

	fresh, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.reporting.calls)
	assert.Equal(t, int64(2), fresh.TotalProducts)

	again, err := h.svc.GetDashboardKPIs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.reporting.calls)
	assert.Equal(t, int64(2), again.TotalProducts)
}

func TestDashboardKPIs_WithoutCacheAlwaysComputes(t *testing.T) {
	h := newHarness(t, nil)
	for range 3 {
		_, err := h.svc.GetDashboardKPIs(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.reporting.calls)
}

func TestHealth(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	svc := app.NewAppService(fakePinger{err: errors.New("down")}, newFakeCatalog(), &fakeLedger{}, &fakeEngine{}, &fakeReporting{}, nil, app.Settings{}, logger)

	res, err := svc.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "degraded", res.Status)
	assert.Equal(t, "disabled", res.Cache)
}
