// Package reconcile diffs the locally cached cart against a seller-confirmed
// quote. Pure functions only: same inputs, same outputs, no I/O.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/internal/cart"
	"github.com/nmoreno-dev/shopstream-checkout/internal/quote"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/money"
)

// ChangeUnavailable is the change-log marker for lines the seller no longer
// offers.
const ChangeUnavailable = "Unavailable"

// Line is one cart line annotated with the seller's verdict.
type Line struct {
	CatalogID   string          `json:"catalog_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Available   bool            `json:"available"`
	MaxQuantity int             `json:"max_quantity"`
	ChangeLog   []string        `json:"change_log,omitempty"`
}

// Result is the full reconciliation outcome. Payment downstream is permitted
// iff AllAvailable.
type Result struct {
	Lines        []Line          `json:"lines"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	AllAvailable bool            `json:"all_available"`
}

// Reconcile produces exactly one Line per original cart line, in order.
func Reconcile(original []cart.Line, quoted []quote.Line) Result {
	quoteByID := make(map[string]quote.Line, len(quoted))
	for _, q := range quoted {
		quoteByID[q.CatalogID] = q
	}

	result := Result{
		Lines:        make([]Line, 0, len(original)),
		TotalSavings: decimal.Zero,
		AllAvailable: true,
	}

	for _, orig := range original {
		q, found := quoteByID[orig.CatalogID]
		if !found {
			result.Lines = append(result.Lines, unavailableLine(orig))
			result.AllAvailable = false
			// Unavailable lines keep their original price and quantity in
			// the savings sum.
			result.TotalSavings = result.TotalSavings.Add(lineSavings(orig.MaxUnitPrice, orig.UnitPrice, orig.Quantity))
			continue
		}

		line := Line{
			CatalogID:   orig.CatalogID,
			Quantity:    q.Quantity,
			UnitPrice:   q.UnitPrice,
			Available:   true,
			MaxQuantity: minInt(q.AvailableQuantity, q.MaxQuantity),
		}
		if !q.UnitPrice.Equal(orig.UnitPrice) {
			line.ChangeLog = append(line.ChangeLog,
				fmt.Sprintf("Price %s", money.FormatDelta(orig.UnitPrice, q.UnitPrice)))
		}
		if q.Quantity != orig.Quantity {
			line.ChangeLog = append(line.ChangeLog,
				fmt.Sprintf("Quantity %d → %d", orig.Quantity, q.Quantity))
		}

		result.Lines = append(result.Lines, line)
		result.TotalSavings = result.TotalSavings.Add(lineSavings(orig.MaxUnitPrice, q.UnitPrice, q.Quantity))
	}

	return result
}

func unavailableLine(orig cart.Line) Line {
	return Line{
		CatalogID:   orig.CatalogID,
		Quantity:    orig.Quantity,
		UnitPrice:   orig.UnitPrice,
		Available:   false,
		MaxQuantity: minInt(orig.MaxAvailable, orig.MaxOrderable),
		ChangeLog:   []string{ChangeUnavailable},
	}
}

// lineSavings may be negative; a price increase reduces total savings.
func lineSavings(maxUnitPrice, unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return maxUnitPrice.Sub(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
