package quote

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// wireQuote is the gateway's quote shape. Amounts arrive as JSON strings or
// numbers; decimal.Decimal accepts both.
type wireQuote struct {
	ID           string            `json:"id"`
	Items        []wireItem        `json:"items"`
	Breakup      []wireBreakup     `json:"breakup"`
	Fulfillments []wireFulfillment `json:"fulfillments"`
	GrandTotal   *decimal.Decimal  `json:"grand_total"`
}

type wireItem struct {
	CatalogID         string          `json:"catalog_id"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AvailableQuantity int             `json:"available_quantity"`
	MaxQuantity       int             `json:"max_quantity"`
}

type wireBreakup struct {
	Type          string          `json:"type"`
	RefID         string          `json:"ref_id"`
	FulfillmentID string          `json:"fulfillment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

type wireFulfillment struct {
	ID                string `json:"id"`
	Category          string `json:"category"`
	EstimatedDuration string `json:"estimated_duration"`
	Serviceable       bool   `json:"serviceable"`
}

var knownEntryTypes = map[EntryType]struct{}{
	EntryDelivery: {},
	EntryPacking:  {},
	EntryMisc:     {},
	EntryDiscount: {},
	EntryTax:      {},
	EntryItem:     {},
}

func (w wireQuote) toQuote() (*Quote, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("quote id missing")
	}

	q := &Quote{
		ID:         w.ID,
		Lines:      make([]Line, 0, len(w.Items)),
		Breakup:    make([]BreakupEntry, 0, len(w.Breakup)),
		GrandTotal: w.GrandTotal,
	}
	for _, item := range w.Items {
		if item.CatalogID == "" {
			return nil, fmt.Errorf("quote item missing catalog id")
		}
		q.Lines = append(q.Lines, Line{
			CatalogID:         item.CatalogID,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			AvailableQuantity: item.AvailableQuantity,
			MaxQuantity:       item.MaxQuantity,
		})
	}
	for _, entry := range w.Breakup {
		entryType := EntryType(entry.Type)
		if _, ok := knownEntryTypes[entryType]; !ok {
			// Unknown buckets are skipped rather than failing the quote;
			// sellers add types faster than clients ship.
			continue
		}
		q.Breakup = append(q.Breakup, BreakupEntry{
			Type:          entryType,
			RefID:         entry.RefID,
			FulfillmentID: entry.FulfillmentID,
			Amount:        entry.Amount,
			Quantity:      entry.Quantity,
			UnitPrice:     entry.UnitPrice,
		})
	}
	for _, f := range w.Fulfillments {
		q.Fulfillments = append(q.Fulfillments, FulfillmentOption{
			ID:                f.ID,
			Category:          f.Category,
			EstimatedDuration: f.EstimatedDuration,
			Serviceable:       f.Serviceable,
		})
	}
	return q, nil
}
