package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DashboardKPIs are the headline counts shown on the dashboard.
// Pending means draft or ready.
type DashboardKPIs struct {
	TotalProducts            int64           `json:"total_products"`
	LowStockItems            int64           `json:"low_stock_items"`
	PendingReceipts          int64           `json:"pending_receipts"`
	PendingDeliveries        int64           `json:"pending_deliveries"`
	PendingInternalTransfers int64           `json:"pending_internal_transfers"`
	LowStockThreshold        decimal.Decimal `json:"low_stock_threshold"`
}

// ReportingService provides read-only aggregates over the catalog and stock rows.
type ReportingService interface {
	DashboardKPIs(ctx context.Context, lowStockThreshold decimal.Decimal) (*DashboardKPIs, error)
	// LowStock lists stock rows whose free_to_use is at or below the threshold.
	LowStock(ctx context.Context, threshold decimal.Decimal) ([]StockLevel, error)
}

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

func (s *reportingService) DashboardKPIs(ctx context.Context, lowStockThreshold decimal.Decimal) (*DashboardKPIs, error) {
	k := DashboardKPIs{LowStockThreshold: lowStockThreshold}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM stock WHERE free_to_use <= $1::numeric),
			COUNT(*) FILTER (WHERE type = 'receipt'),
			COUNT(*) FILTER (WHERE type = 'delivery'),
			COUNT(*) FILTER (WHERE type = 'internal_transfer')
		FROM transactions
		WHERE status IN ('draft', 'ready')
	`, lowStockThreshold).Scan(
		&k.TotalProducts, &k.LowStockItems,
		&k.PendingReceipts, &k.PendingDeliveries, &k.PendingInternalTransfers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dashboard KPIs: %w", err)
	}
	return &k, nil
}

func (s *reportingService) LowStock(ctx context.Context, threshold decimal.Decimal) ([]StockLevel, error) {
	var c conditions
	c.add("s.free_to_use <= ?::numeric", threshold)
	return queryStockLevels(ctx, s.pool, c)
}
