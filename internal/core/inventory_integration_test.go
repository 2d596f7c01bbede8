package core_test

import (
	"errors"
	"testing"

	"inventory-service/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_CreateAndListProducts(t *testing.T) {
	f := newFixture(t)
	tools := "tools"

	p, err := f.catalog.CreateProduct(f.ctx, core.ProductInput{Name: "  Hammer ", SKU: "HAM-1", UOM: "pcs", Category: &tools})
	require.NoError(t, err)
	assert.Equal(t, "Hammer", p.Name)
	require.NotNil(t, p.Category)
	assert.Equal(t, "tools", *p.Category)

	_, err = f.catalog.CreateProduct(f.ctx, core.ProductInput{Name: "Nail", SKU: "NAIL-1", UOM: "box"})
	require.NoError(t, err)

	_, err = f.catalog.CreateProduct(f.ctx, core.ProductInput{Name: "Other hammer", SKU: "HAM-1", UOM: "pcs"})
	assert.True(t, errors.Is(err, core.ErrConflict))

	_, err = f.catalog.CreateProduct(f.ctx, core.ProductInput{Name: "", SKU: "X", UOM: "pcs"})
	assert.True(t, errors.Is(err, core.ErrValidation))

	all, err := f.catalog.ListProducts(f.ctx, core.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := f.catalog.ListProducts(f.ctx, core.ProductFilter{Category: &tools})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "HAM-1", filtered[0].SKU)

	got, err := f.catalog.GetProduct(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SKU, got.SKU)

	_, err = f.catalog.GetProduct(f.ctx, 999)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCatalog_UpdateProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "SKU-1")

	name := "Renamed"
	category := "garden"
	updated, err := f.catalog.UpdateProduct(f.ctx, p.ID, core.ProductUpdate{Name: &name, Category: &category})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "SKU-1", updated.SKU)
	assert.Equal(t, "pcs", updated.UOM)
	require.NotNil(t, updated.Category)
	assert.Equal(t, "garden", *updated.Category)

	empty := ""
	cleared, err := f.catalog.UpdateProduct(f.ctx, p.ID, core.ProductUpdate{Category: &empty})
	require.NoError(t, err)
	assert.Nil(t, cleared.Category)
	assert.Equal(t, "Renamed", cleared.Name)

	blank := "  "
	_, err = f.catalog.UpdateProduct(f.ctx, p.ID, core.ProductUpdate{Name: &blank})
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.catalog.UpdateProduct(f.ctx, 999, core.ProductUpdate{Name: &name})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCatalog_Warehouses(t *testing.T) {
	f := newFixture(t)
	addr := "Dock 4"

	w, err := f.catalog.CreateWarehouse(f.ctx, core.WarehouseInput{Name: "Main", ShortCode: "WH-A", Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, "WH-A", w.ShortCode)

	_, err = f.catalog.CreateWarehouse(f.ctx, core.WarehouseInput{Name: "Dup", ShortCode: "WH-A"})
	assert.True(t, errors.Is(err, core.ErrConflict))

	_, err = f.catalog.CreateWarehouse(f.ctx, core.WarehouseInput{Name: "Slash", ShortCode: "A/B"})
	assert.True(t, errors.Is(err, core.ErrValidation))

	list, err := f.catalog.ListWarehouses(f.ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got, err := f.catalog.GetWarehouse(f.ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Address)
	assert.Equal(t, "Dock 4", *got.Address)
}

func TestCatalog_DeleteReferencedRecordsConflicts(t *testing.T) {
	f := newFixture(t)
	used := f.product(t, "USED")
	unused := f.product(t, "UNUSED")
	w := f.warehouse(t, "W1")
	empty := f.warehouse(t, "W2")
	f.receive(t, used.ID, w.ID, "1")

	err := f.catalog.DeleteProduct(f.ctx, used.ID)
	assert.True(t, errors.Is(err, core.ErrConflict))

	err = f.catalog.DeleteWarehouse(f.ctx, w.ID)
	assert.True(t, errors.Is(err, core.ErrConflict))

	require.NoError(t, f.catalog.DeleteProduct(f.ctx, unused.ID))
	require.NoError(t, f.catalog.DeleteWarehouse(f.ctx, empty.ID))

	assert.True(t, errors.Is(f.catalog.DeleteProduct(f.ctx, unused.ID), core.ErrNotFound))
	assert.True(t, errors.Is(f.catalog.DeleteWarehouse(f.ctx, empty.ID), core.ErrNotFound))
}
