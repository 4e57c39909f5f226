// Package cart defines the read-only view of the shopper's cart that checkout
// consumes, plus the provider contract for reading and clearing it. The cart
// subsystem itself lives outside this module.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is one item the user intends to buy.
type Line struct {
	CatalogID    string          `json:"catalog_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MaxUnitPrice decimal.Decimal `json:"max_unit_price"`
	MaxAvailable int             `json:"max_available"`
	MaxOrderable int             `json:"max_orderable"`
	Cancellable  bool            `json:"cancellable"`
	Returnable   bool            `json:"returnable"`
}

// Snapshot is the immutable cart view taken once when checkout starts.
type Snapshot struct {
	CartID  string `json:"cart_id"`
	StoreID string `json:"store_id"`
	Lines   []Line `json:"lines"`
}

// Provider reads the cart for a store and clears it after a confirmed order.
type Provider interface {
	Snapshot(ctx context.Context, storeID string) (*Snapshot, error)
	Clear(ctx context.Context, storeID, authToken string) error
}
