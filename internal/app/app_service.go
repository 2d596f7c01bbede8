package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inventory-service/internal/cache"
	"inventory-service/internal/core"
	"inventory-service/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	kpiCacheKey      = "kpis:"
	kpiGenerationKey = "kpi-generation"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Settings are the tunables the application layer reads from config.
type Settings struct {
	LowStockThreshold decimal.Decimal
	KPICacheTTL       time.Duration
}

type appService struct {
	db        Pinger
	catalog   core.CatalogService
	ledger    core.StockLedger
	engine    core.TransactionEngine
	reporting core.ReportingService
	kpiCache  *cache.Store
	settings  Settings
	log       logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// kpiCache may be a disabled store.
func NewAppService(
	db Pinger,
	catalog core.CatalogService,
	ledger core.StockLedger,
	engine core.TransactionEngine,
	reporting core.ReportingService,
	kpiCache *cache.Store,
	settings Settings,
	log logrus.FieldLogger,
) ApplicationService {
	if kpiCache == nil {
		kpiCache = cache.New(nil, "")
	}
	return &appService{
		db:        db,
		catalog:   catalog,
		ledger:    ledger,
		engine:    engine,
		reporting: reporting,
		kpiCache:  kpiCache,
		settings:  settings,
		log:       log.WithField("module", "app"),
	}
}

func (s *appService) Health(ctx context.Context) (*HealthResult, error) {
	res := &HealthResult{Status: "ok", Database: "ok", Cache: "disabled"}
	if s.kpiCache.Enabled() {
		res.Cache = "ok"
	}
	if err := s.db.Ping(ctx); err != nil {
		res.Status = "degraded"
		res.Database = "unreachable"
		return res, fmt.Errorf("database ping failed: %w", err)
	}
	return res, nil
}

// ── Catalog ──────────────────────────────────────────────────────────────────

func (s *appService) CreateProduct(ctx context.Context, req CreateProductRequest) (*ProductResult, error) {
	if (req.WarehouseID == nil) != (req.OpeningQuantity == nil) {
		return nil, core.Errorf(core.KindValidation, "warehouse_id and quantity must be given together")
	}
	if req.OpeningQuantity != nil && req.OpeningQuantity.IsNegative() {
		return nil, core.Errorf(core.KindValidation, "opening quantity cannot be negative, got %s", req.OpeningQuantity)
	}
	if req.WarehouseID != nil {
		if _, err := s.catalog.GetWarehouse(ctx, *req.WarehouseID); err != nil {
			return nil, err
		}
	}

	input := core.ProductInput{
		Name:     req.Name,
		SKU:      req.SKU,
		Category: req.Category,
		UOM:      req.UOM,
	}
	if req.OpeningQuantity == nil || !req.OpeningQuantity.IsPositive() {
		product, err := s.catalog.CreateProduct(ctx, input)
		if err != nil {
			return nil, err
		}
		s.invalidateKPIs(ctx)
		return &ProductResult{Product: product}, nil
	}

	product, opening, err := s.engine.CreateProductWithOpeningStock(ctx, core.OpeningStockInput{
		Product:     input,
		WarehouseID: *req.WarehouseID,
		Quantity:    *req.OpeningQuantity,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"product_id":   product.ID,
		"warehouse_id": *req.WarehouseID,
		"quantity":     req.OpeningQuantity.String(),
		"reference":    opening.Transaction.ReferenceNumber,
	}).Info("opening stock recorded")

	s.invalidateKPIs(ctx)
	return &ProductResult{Product: product, OpeningStock: opening}, nil
}

func (s *appService) GetProduct(ctx context.Context, id int64) (*ProductResult, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProductResult{Product: p}, nil
}

func (s *appService) ListProducts(ctx context.Context, category *string) (*ProductListResult, error) {
	products, err := s.catalog.ListProducts(ctx, core.ProductFilter{Category: category})
	if err != nil {
		return nil, err
	}
	return &ProductListResult{Products: products}, nil
}

func (s *appService) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (*ProductResult, error) {
	p, err := s.catalog.UpdateProduct(ctx, id, core.ProductUpdate{Name: req.Name, Category: req.Category, UOM: req.UOM})
	if err != nil {
		return nil, err
	}
	return &ProductResult{Product: p}, nil
}

func (s *appService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateKPIs(ctx)
	return nil
}

func (s *appService) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*WarehouseResult, error) {
	w, err := s.catalog.CreateWarehouse(ctx, core.WarehouseInput{Name: req.Name, ShortCode: req.ShortCode, Address: req.Address})
	if err != nil {
		return nil, err
	}
	return &WarehouseResult{Warehouse: w}, nil
}

func (s *appService) GetWarehouse(ctx context.Context, id int64) (*WarehouseResult, error) {
	w, err := s.catalog.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WarehouseResult{Warehouse: w}, nil
}

func (s *appService) ListWarehouses(ctx context.Context) (*WarehouseListResult, error) {
	ws, err := s.catalog.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}
	return &WarehouseListResult{Warehouses: ws}, nil
}

func (s *appService) DeleteWarehouse(ctx context.Context, id int64) error {
	return s.catalog.DeleteWarehouse(ctx, id)
}

// ── Transactions ─────────────────────────────────────────────────────────────

func toLineInputs(lines []LineRequest) []core.LineInput {
	out := make([]core.LineInput, len(lines))
	for i, l := range lines {
		out[i] = core.LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitCost: l.UnitCost}
	}
	return out
}

func (s *appService) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (*TransactionResult, error) {
	txn, err := s.engine.CreateReceipt(ctx, core.ReceiptInput{
		Lines:         toLineInputs(req.Lines),
		Supplier:      req.Supplier,
		ToWarehouseID: req.ToWarehouseID,
		ScheduledDate: req.ScheduledDate,
		Draft:         req.Draft,
		CreatedBy:     req.CreatedBy,
	})
	return s.created(ctx, txn, err)
}

func (s *appService) CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (*TransactionResult, error) {
	txn, err := s.engine.CreateDelivery(ctx, core.DeliveryInput{
		Lines:           toLineInputs(req.Lines),
		FromWarehouseID: req.FromWarehouseID,
		DeliveryAddress: req.DeliveryAddress,
		ScheduledDate:   req.ScheduledDate,
		Draft:           req.Draft,
		CreatedBy:       req.CreatedBy,
	})
	return s.created(ctx, txn, err)
}

func (s *appService) CreateInternalTransfer(ctx context.Context, req CreateTransferRequest) (*TransactionResult, error) {
	txn, err := s.engine.CreateInternalTransfer(ctx, core.TransferInput{
		Lines:           toLineInputs(req.Lines),
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		ScheduledDate:   req.ScheduledDate,
		Draft:           req.Draft,
		CreatedBy:       req.CreatedBy,
	})
	return s.created(ctx, txn, err)
}

func (s *appService) created(ctx context.Context, txn *core.Transaction, err error) (*TransactionResult, error) {
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"reference":      txn.ReferenceNumber,
		"type":           txn.Type,
		"status":         txn.Status,
	}).Info("transaction created")
	s.invalidateKPIs(ctx)
	return &TransactionResult{Transaction: txn}, nil
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*ValidationResult, error) {
	res, err := s.engine.AdjustStock(ctx, core.AdjustmentInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		CountedQty:  req.CountedQty,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"reference":    res.Transaction.ReferenceNumber,
		"product_id":   req.ProductID,
		"warehouse_id": req.WarehouseID,
		"counted":      req.CountedQty.String(),
	}).Info("stock adjusted")
	s.invalidateKPIs(ctx)
	return res, nil
}

func (s *appService) ValidateTransaction(ctx context.Context, ref string) (*ValidationResult, error) {
	id, err := s.resolveTransactionID(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Validate(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrInsufficientStock) {
			s.log.WithError(err).WithField("transaction_id", id).Warn("validation rejected")
		}
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"transaction_id": id,
		"reference":      res.Transaction.ReferenceNumber,
		"postings":       len(res.Balances),
	}).Info("transaction validated")
	s.invalidateKPIs(ctx)
	return res, nil
}

func (s *appService) MarkTransactionReady(ctx context.Context, ref string) (*TransactionResult, error) {
	id, err := s.resolveTransactionID(ctx, ref)
	if err != nil {
		return nil, err
	}
	txn, err := s.engine.MarkReady(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateKPIs(ctx)
	return &TransactionResult{Transaction: txn}, nil
}

func (s *appService) CancelTransaction(ctx context.Context, ref string) (*TransactionResult, error) {
	id, err := s.resolveTransactionID(ctx, ref)
	if err != nil {
		return nil, err
	}
	txn, err := s.engine.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"transaction_id": id, "reference": txn.ReferenceNumber}).Info("transaction canceled")
	s.invalidateKPIs(ctx)
	return &TransactionResult{Transaction: txn}, nil
}

func (s *appService) GetTransaction(ctx context.Context, ref string) (*TransactionResult, error) {
	var txn *core.Transaction
	var err error
	if id, ok := parseID(ref); ok {
		txn, err = s.engine.Get(ctx, id)
	} else {
		txn, err = s.engine.GetByReference(ctx, strings.TrimSpace(ref))
	}
	if err != nil {
		return nil, err
	}
	return &TransactionResult{Transaction: txn}, nil
}

func (s *appService) ListTransactions(ctx context.Context, req ListTransactionsRequest) (*TransactionListResult, error) {
	filter := core.TransactionFilter{WarehouseID: req.WarehouseID, Category: req.Category, Limit: req.Limit}
	if req.Type != nil {
		t := core.TransactionType(strings.ToLower(*req.Type))
		filter.Type = &t
	}
	if req.Status != nil {
		st := core.TransactionStatus(strings.ToLower(*req.Status))
		filter.Status = &st
	}
	txns, err := s.engine.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &TransactionListResult{Transactions: txns}, nil
}

// resolveTransactionID accepts a numeric id or a reference number.
func (s *appService) resolveTransactionID(ctx context.Context, ref string) (int64, error) {
	if id, ok := parseID(ref); ok {
		return id, nil
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, core.Errorf(core.KindValidation, "transaction reference is required")
	}
	txn, err := s.engine.GetByReference(ctx, ref)
	if err != nil {
		return 0, err
	}
	return txn.ID, nil
}

func parseID(ref string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ── Stock & reporting ────────────────────────────────────────────────────────

func (s *appService) GetStock(ctx context.Context, q StockQuery) (*StockResult, error) {
	if q.ProductID != nil && q.WarehouseID != nil {
		b, err := s.ledger.Balance(ctx, *q.ProductID, *q.WarehouseID)
		if err != nil {
			return nil, err
		}
		return &StockResult{Balance: &b}, nil
	}
	levels, err := s.ledger.Balances(ctx, core.StockFilter{ProductID: q.ProductID, WarehouseID: q.WarehouseID, Category: q.Category})
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) GetLedger(ctx context.Context, q LedgerQuery) (*LedgerResult, error) {
	entries, err := s.ledger.Entries(ctx, core.LedgerFilter{
		WarehouseID:   q.WarehouseID,
		ProductID:     q.ProductID,
		TransactionID: q.TransactionID,
		Limit:         q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Entries: entries}, nil
}

func (s *appService) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	ds, err := s.ledger.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if len(ds) > 0 {
		s.log.WithField("discrepancies", len(ds)).Error("stock rows disagree with ledger")
	}
	return &ReconcileResult{Consistent: len(ds) == 0, Discrepancies: ds}, nil
}

func (s *appService) GetDashboardKPIs(ctx context.Context) (*core.DashboardKPIs, error) {
	// The generation is read before computing, so a snapshot that races a
	// mutation is stored under a key no later read will use.
	gen, err := s.kpiCache.Generation(ctx, kpiGenerationKey)
	if err != nil {
		s.log.WithError(err).Warn("kpi cache generation read failed")
		return s.reporting.DashboardKPIs(ctx, s.settings.LowStockThreshold)
	}
	key := fmt.Sprintf("%s%d:%s", kpiCacheKey, gen, s.settings.LowStockThreshold)

	var cached core.DashboardKPIs
	found, err := s.kpiCache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.log.WithError(err).Warn("kpi cache read failed")
	}
	if found {
		return &cached, nil
	}

	k, err := s.reporting.DashboardKPIs(ctx, s.settings.LowStockThreshold)
	if err != nil {
		return nil, err
	}
	if err := s.kpiCache.SetJSON(ctx, key, k, s.settings.KPICacheTTL); err != nil {
		s.log.WithError(err).Warn("kpi cache write failed")
	}
	return k, nil
}

func (s *appService) LowStock(ctx context.Context) (*StockResult, error) {
	levels, err := s.reporting.LowStock(ctx, s.settings.LowStockThreshold)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) invalidateKPIs(ctx context.Context) {
	if err := s.kpiCache.Bump(ctx, kpiGenerationKey); err != nil {
		logging.LogError(s.log, "app", "invalidateKPIs", nil, err)
	}
	if err := s.kpiCache.Invalidate(ctx, kpiCacheKey); err != nil {
		s.log.WithError(err).Warn("kpi cache invalidation failed")
	}
}
