package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog item. Stock is never mutated outside a
// row-locked movement; see Service.AdjustStock and the sales workflow.
type Product struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Barcode            *string         `json:"barcode,omitempty"`
	Name               string          `json:"name"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Stock              decimal.Decimal `json:"stock"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// StockMovement is an append-only audit row for every stock change.
type StockMovement struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	Delta      decimal.Decimal `json:"delta"`
	PriorStock decimal.Decimal `json:"prior_stock"`
	NewStock   decimal.Decimal `json:"new_stock"`
	Reason     string          `json:"reason"`
	SaleID     *int64          `json:"sale_id,omitempty"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CreateProductRequest is the payload for creating products.
type CreateProductRequest struct {
	SKU                string  `json:"sku" validate:"required,max=50"`
	Barcode            *string `json:"barcode,omitempty" validate:"omitempty,max=50"`
	Name               string  `json:"name" validate:"required,max=200"`
	UnitPrice          string  `json:"unit_price" validate:"required"`
	InitialStock       string  `json:"initial_stock,omitempty"`
	AllowNegativeStock bool    `json:"allow_negative_stock"`
}

// UpdateProductRequest carries optional field updates.
type UpdateProductRequest struct {
	Barcode            *string `json:"barcode,omitempty" validate:"omitempty,max=50"`
	Name               *string `json:"name,omitempty" validate:"omitempty,max=200"`
	UnitPrice          *string `json:"unit_price,omitempty"`
	AllowNegativeStock *bool   `json:"allow_negative_stock,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
}

// AdjustStockInput describes a manual stock adjustment.
type AdjustStockInput struct {
	ProductID int64
	Delta     decimal.Decimal
	Reason    string
	ActorID   int64
}

var (
	// ErrNotFound indicates a missing product.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrDuplicateSKU indicates the SKU is already taken.
	ErrDuplicateSKU = errors.New("catalog: sku already exists")
	// ErrNegativeStock is returned when a movement would take stock below
	// zero and the product disallows it.
	ErrNegativeStock = errors.New("catalog: movement would make stock negative")
	// ErrZeroDelta indicates a no-op adjustment.
	ErrZeroDelta = errors.New("catalog: adjustment delta must be non zero")
	// ErrInvalidPrice indicates a malformed or negative price.
	ErrInvalidPrice = errors.New("catalog: unit price must be a non-negative decimal")
)
