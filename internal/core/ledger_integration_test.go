package core_test

import (
	"errors"
	"testing"

	"inventory-service/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anchorTransaction returns the id of a ready receipt to hang direct postings on.
func (f *fixture) anchorTransaction(t *testing.T, productID, warehouseID int64) int64 {
	t.Helper()
	txn, err := f.engine.CreateReceipt(f.ctx, core.ReceiptInput{
		Lines:         []core.LineInput{{ProductID: productID, Quantity: qty("1")}},
		ToWarehouseID: warehouseID,
	})
	require.NoError(t, err)
	return txn.ID
}

func TestLedger_PostBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, "A")
	b := f.product(t, "B")
	w := f.warehouse(t, "W1")
	anchor := f.anchorTransaction(t, a.ID, w.ID)

	tx, err := f.pool.Begin(f.ctx)
	require.NoError(t, err)
	balances, err := f.ledger.PostTx(f.ctx, tx, anchor, []core.Posting{
		{ProductID: a.ID, WarehouseID: w.ID, Delta: qty("5"), Kind: core.EntryReceipt},
	})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].OnHand.Equal(qty("5")))
	require.NoError(t, tx.Commit(f.ctx))

	tx, err = f.pool.Begin(f.ctx)
	require.NoError(t, err)
	_, err = f.ledger.PostTx(f.ctx, tx, anchor, []core.Posting{
		{ProductID: a.ID, WarehouseID: w.ID, Delta: qty("-2"), Kind: core.EntryDelivery},
		{ProductID: b.ID, WarehouseID: w.ID, Delta: qty("-1"), Kind: core.EntryDelivery},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))
	require.NoError(t, tx.Rollback(f.ctx))

	f.assertBalance(t, a.ID, w.ID, "5", "5")
	f.assertBalance(t, b.ID, w.ID, "0", "0")
	assert.Equal(t, 1, f.ledgerCount(t))
	f.assertInvariants(t)
}

func TestLedger_ZeroDeltaIsSkipped(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "A")
	w := f.warehouse(t, "W1")
	anchor := f.anchorTransaction(t, p.ID, w.ID)

	tx, err := f.pool.Begin(f.ctx)
	require.NoError(t, err)
	defer tx.Rollback(f.ctx)

	balances, err := f.ledger.PostTx(f.ctx, tx, anchor, []core.Posting{
		{ProductID: p.ID, WarehouseID: w.ID, Delta: decimal.Zero, Kind: core.EntryAdjustment},
	})
	require.NoError(t, err)
	assert.Empty(t, balances)
	require.NoError(t, tx.Commit(f.ctx))
	assert.Zero(t, f.ledgerCount(t))
}

func TestLedger_BalanceOfUnknownPairIsZero(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.Balance(f.ctx, 11, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(11), b.ProductID)
	assert.Equal(t, int64(12), b.WarehouseID)
	assert.True(t, b.OnHand.IsZero())
	assert.True(t, b.FreeToUse.IsZero())
}

func TestLedger_WeightedAverageCost(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "A")
	w := f.warehouse(t, "W1")

	for _, cost := range []string{"2", "4"} {
		unitCost := qty(cost)
		txn, err := f.engine.CreateReceipt(f.ctx, core.ReceiptInput{
			Lines:         []core.LineInput{{ProductID: p.ID, Quantity: qty("10"), UnitCost: &unitCost}},
			ToWarehouseID: w.ID,
		})
		require.NoError(t, err)
		_, err = f.engine.Validate(f.ctx, txn.ID)
		require.NoError(t, err)
	}

	b, err := f.ledger.Balance(f.ctx, p.ID, w.ID)
	require.NoError(t, err)
	assert.True(t, b.UnitCost.Equal(qty("3")), "want 3, got %s", b.UnitCost)
	assert.True(t, b.OnHand.Equal(qty("20")))
}

func TestLedger_EntriesAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "A")
	w := f.warehouse(t, "W1")
	f.receive(t, p.ID, w.ID, "4")

	_, err := f.pool.Exec(f.ctx, `UPDATE stock_ledger_entries SET quantity_change = 100`)
	assert.Error(t, err)

	_, err = f.pool.Exec(f.ctx, `DELETE FROM stock_ledger_entries`)
	assert.Error(t, err)

	assert.Equal(t, 1, f.ledgerCount(t))
}

func TestLedger_ReconcileDetectsDrift(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "A")
	w := f.warehouse(t, "W1")
	f.receive(t, p.ID, w.ID, "4")

	discrepancies, err := f.ledger.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	// Write the stock row behind the ledger's back.
	_, err = f.pool.Exec(f.ctx, `UPDATE stock SET on_hand = on_hand + 1, free_to_use = free_to_use + 1`)
	require.NoError(t, err)

	discrepancies, err = f.ledger.Reconcile(f.ctx)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, p.ID, discrepancies[0].ProductID)
	assert.True(t, discrepancies[0].OnHand.Equal(qty("5")))
	assert.True(t, discrepancies[0].LedgerSum.Equal(qty("4")))
}

func TestLedger_EntriesAndBalancesFilters(t *testing.T) {
	f := newFixture(t)
	tools := "tools"
	hammer, err := f.catalog.CreateProduct(f.ctx, core.ProductInput{Name: "Hammer", SKU: "HAM", UOM: "pcs", Category: &tools})
	require.NoError(t, err)
	nail := f.product(t, "NAIL")
	w1 := f.warehouse(t, "W1")
	w2 := f.warehouse(t, "W2")

	f.receive(t, hammer.ID, w1.ID, "2")
	f.receive(t, nail.ID, w1.ID, "100")
	f.receive(t, nail.ID, w2.ID, "50")

	w1ID := w1.ID
	entries, err := f.ledger.Entries(f.ctx, core.LedgerFilter{WarehouseID: &w1ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "W1/IN/1", entries[0].ReferenceNumber)
	assert.Equal(t, "HAM", entries[0].SKU)
	assert.Equal(t, "W1", entries[0].WarehouseCode)

	limited, err := f.ledger.Entries(f.ctx, core.LedgerFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	nailID := nail.ID
	levels, err := f.ledger.Balances(f.ctx, core.StockFilter{ProductID: &nailID})
	require.NoError(t, err)
	assert.Len(t, levels, 2)

	byCategory, err := f.ledger.Balances(f.ctx, core.StockFilter{Category: &tools})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "HAM", byCategory[0].SKU)
}
