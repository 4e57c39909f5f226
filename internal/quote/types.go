// Package quote models the seller's live price/availability quote and the
// negotiation channel that obtains it.
package quote

import (
	"github.com/shopspring/decimal"
)

// EntryType classifies a breakup entry.
type EntryType string

const (
	EntryDelivery EntryType = "delivery"
	EntryPacking  EntryType = "packing"
	EntryMisc     EntryType = "misc"
	EntryDiscount EntryType = "discount"
	EntryTax      EntryType = "tax"
	EntryItem     EntryType = "item"
)

// Line is a seller-confirmed item row in a quote.
type Line struct {
	CatalogID         string          `json:"catalog_id"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AvailableQuantity int             `json:"available_quantity"`
	MaxQuantity       int             `json:"max_quantity"`
}

// BreakupEntry is one cost component of the quote. Item entries carry a
// quantity and unit price; the named buckets carry a flat amount. Entries may
// be scoped to a fulfillment option via FulfillmentID.
type BreakupEntry struct {
	Type          EntryType       `json:"type"`
	RefID         string          `json:"ref_id,omitempty"`
	FulfillmentID string          `json:"fulfillment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Quantity      int             `json:"quantity,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price,omitempty"`
}

// FulfillmentOption is a seller-offered delivery/service method.
type FulfillmentOption struct {
	ID                string `json:"id"`
	Category          string `json:"category"`
	EstimatedDuration string `json:"estimated_duration"`
	Serviceable       bool   `json:"serviceable"`
}

// Quote is the result of a successful negotiation. Immutable once received; a
// retried negotiation supersedes it wholesale.
type Quote struct {
	ID           string              `json:"id"`
	Lines        []Line              `json:"lines"`
	Breakup      []BreakupEntry      `json:"breakup"`
	Fulfillments []FulfillmentOption `json:"fulfillments,omitempty"`

	// GrandTotal is the seller's authoritative total when present; the
	// breakup calculator falls back to summing buckets when nil.
	GrandTotal *decimal.Decimal `json:"grand_total,omitempty"`
}

// Fulfillment returns the option with the given id.
func (q *Quote) Fulfillment(id string) (FulfillmentOption, bool) {
	for _, f := range q.Fulfillments {
		if f.ID == id {
			return f, true
		}
	}
	return FulfillmentOption{}, false
}
