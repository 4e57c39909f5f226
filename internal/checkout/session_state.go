package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/internal/cart"
	"github.com/nmoreno-dev/shopstream-checkout/internal/quote"
	"github.com/nmoreno-dev/shopstream-checkout/internal/reconcile"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

// ErrorView is the user-facing rendering of a checkout failure.
type ErrorView struct {
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
	Detail  string         `json:"detail,omitempty"`
	// FundsSafe distinguishes confirmation-pending outcomes from payment
	// failures: funds already moved and are not lost.
	FundsSafe bool `json:"funds_safe"`
	// NeedsAddress tells the caller to route to address selection.
	NeedsAddress bool `json:"needs_address,omitempty"`
}

func errorView(err error) *ErrorView {
	if err == nil {
		return nil
	}
	code := pkgerrors.CodeOf(err)
	meta := pkgerrors.MetadataFor(code)
	view := &ErrorView{
		Code:      code,
		Message:   meta.PublicMessage,
		Detail:    err.Error(),
		FundsSafe: meta.FundsSafe,
	}
	return view
}

// Snapshot is the observable state of one transaction session. The UI layer
// subscribes to a stream of these; it holds no other interface to checkout.
type Snapshot struct {
	SessionID string `json:"session_id"`
	Stage     Stage  `json:"stage"`

	Cart                 *cart.Snapshot           `json:"cart,omitempty"`
	Quote                *quote.Quote             `json:"quote,omitempty"`
	Reconciled           *reconcile.Result        `json:"reconciled,omitempty"`
	Breakup              *quote.Summary           `json:"breakup,omitempty"`
	BreakupByFulfillment map[string]quote.Summary `json:"breakup_by_fulfillment,omitempty"`

	SelectedFulfillmentID string `json:"selected_fulfillment_id,omitempty"`
	InitiationID          string `json:"initiation_id,omitempty"`
	GatewayOrderID        string `json:"gateway_order_id,omitempty"`
	PaymentReference      string `json:"payment_reference,omitempty"`
	OrderID               string `json:"order_id,omitempty"`

	PaymentAttempts int `json:"payment_attempts"`

	// PaymentEnabled mirrors the availability gate: true iff every
	// reconciled line is available and the grand total is positive.
	PaymentEnabled bool `json:"payment_enabled"`

	LastError *ErrorView `json:"last_error,omitempty"`
}

// GrandTotal returns the effective total for the selected breakdown, or zero
// when no quote has been received yet.
func (s Snapshot) GrandTotal() decimal.Decimal {
	if s.Breakup == nil {
		return decimal.Zero
	}
	return s.Breakup.GrandTotal
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.BreakupByFulfillment != nil {
		out.BreakupByFulfillment = make(map[string]quote.Summary, len(s.BreakupByFulfillment))
		for k, v := range s.BreakupByFulfillment {
			out.BreakupByFulfillment[k] = v
		}
	}
	return out
}
