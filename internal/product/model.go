package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// CheckoutProduct is the slice of a product the cart snapshot prices against.
type CheckoutProduct struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	IsActive      bool
}

type ListOptions struct {
	Search     *string
	InStock    *bool
	OnlyActive bool
	Limit      int32
	Page       int32
}

type ListResult struct {
	Items []*Product `json:"items"`
	Page  int32      `json:"page"`
	Limit int32      `json:"limit"`
}
