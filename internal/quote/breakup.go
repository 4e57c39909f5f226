package quote

import (
	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/pkg/money"
)

// Summary is a display-ready cost breakdown. Savings is populated later by
// the reconciliation step; the calculator leaves it zero.
type Summary struct {
	ItemsTotal  decimal.Decimal `json:"items_total"`
	Delivery    decimal.Decimal `json:"delivery"`
	Packing     decimal.Decimal `json:"packing"`
	Convenience decimal.Decimal `json:"convenience"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Savings     decimal.Decimal `json:"savings"`
}

// ComputeBreakup buckets the entries into a Summary. When authoritativeTotal
// is non-nil it wins; otherwise the grand total is
// itemsTotal + delivery + packing + convenience - discount + tax.
func ComputeBreakup(entries []BreakupEntry, authoritativeTotal *decimal.Decimal) Summary {
	var s Summary
	for _, entry := range entries {
		switch entry.Type {
		case EntryItem:
			s.ItemsTotal = s.ItemsTotal.Add(entry.UnitPrice.Mul(decimal.NewFromInt(int64(entry.Quantity))))
		case EntryDelivery:
			s.Delivery = s.Delivery.Add(entry.Amount)
		case EntryPacking:
			s.Packing = s.Packing.Add(entry.Amount)
		case EntryMisc:
			s.Convenience = s.Convenience.Add(entry.Amount)
		case EntryDiscount:
			// Discounts arrive as negative or positive amounts depending on
			// the seller; normalize to a positive deduction.
			s.Discount = s.Discount.Add(entry.Amount.Abs())
		case EntryTax:
			s.Tax = s.Tax.Add(entry.Amount)
		}
	}

	if authoritativeTotal != nil {
		s.GrandTotal = *authoritativeTotal
	} else {
		s.GrandTotal = money.Sum(s.ItemsTotal, s.Delivery, s.Packing, s.Convenience, s.Tax).Sub(s.Discount)
	}
	return s
}

// ForFulfillment computes the breakdown for one fulfillment option: entries
// scoped to that option plus unscoped entries. The quote's authoritative
// total only applies to the unscoped breakdown, so per-option summaries
// always use the sum fallback.
func ForFulfillment(q *Quote, fulfillmentID string) Summary {
	scoped := make([]BreakupEntry, 0, len(q.Breakup))
	for _, entry := range q.Breakup {
		if entry.FulfillmentID == "" || entry.FulfillmentID == fulfillmentID {
			scoped = append(scoped, entry)
		}
	}
	return ComputeBreakup(scoped, nil)
}

// Summaries computes one breakdown per fulfillment option, or the single
// quote-wide breakdown when the quote carries no options.
func Summaries(q *Quote) map[string]Summary {
	if len(q.Fulfillments) == 0 {
		return map[string]Summary{"": ComputeBreakup(q.Breakup, q.GrandTotal)}
	}
	out := make(map[string]Summary, len(q.Fulfillments))
	for _, f := range q.Fulfillments {
		out[f.ID] = ForFulfillment(q, f.ID)
	}
	return out
}

// VisibleBuckets returns the non-zero named buckets for display. Zero-valued
// buckets still participate in grand-total arithmetic, they are just not
// rendered.
func (s Summary) VisibleBuckets() map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	add := func(name string, v decimal.Decimal) {
		if !v.IsZero() {
			out[name] = v
		}
	}
	add("items", s.ItemsTotal)
	add("delivery", s.Delivery)
	add("packing", s.Packing)
	add("convenience", s.Convenience)
	add("discount", s.Discount)
	add("tax", s.Tax)
	return out
}
