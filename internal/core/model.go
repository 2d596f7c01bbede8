package core

import "time"

// Product is a catalog item. SKU is unique and fixed after creation.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	Category  *string   `json:"category,omitempty"`
	UOM       string    `json:"uom"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductInput carries the fields required to create a Product.
type ProductInput struct {
	Name     string
	SKU      string
	Category *string
	UOM      string
}

// ProductUpdate changes descriptive fields only. Nil fields are left as they are.
// An empty Category clears it.
type ProductUpdate struct {
	Name     *string
	Category *string
	UOM      *string
}

type ProductFilter struct {
	Category *string
}

// Warehouse is a stock location. ShortCode is unique and prefixes every
// reference number issued for the warehouse.
type Warehouse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ShortCode string    `json:"short_code"`
	Address   *string   `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type WarehouseInput struct {
	Name      string
	ShortCode string
	Address   *string
}
