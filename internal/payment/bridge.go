// Package payment bridges the checkout flow to the payment provider: first a
// synchronous call creating a remote payment-order record, then a hand-off to
// the external payment SDK. The bridge never retries; the orchestrator owns
// the (bounded) retry loop and always restarts from order creation because a
// stale gateway order cannot be reused.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/internal/initiation"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/money"
)

// BuyerProfile prefills the externally rendered payment UI.
type BuyerProfile struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Checkout is the opaque payload handed to the external SDK. Amount is in
// minor units.
type Checkout struct {
	Amount   int64
	Currency string
	OrderID  string
	Prefill  BuyerProfile
	Theme    string
}

// SDK is the external payment processor. Pay blocks until the user completes
// or abandons payment in the externally rendered UI.
type SDK interface {
	Pay(ctx context.Context, checkout Checkout) (paymentReference string, err error)
}

// Result is a successful payment.
type Result struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	PaymentReference string `json:"payment_reference"`
}

// Bridge runs the two-step payment sub-flow.
type Bridge struct {
	orderURL  string
	authToken string
	currency  string
	theme     string
	client    *http.Client
	sdk       SDK
	logg      *logger.Logger
}

// Options configures the bridge.
type Options struct {
	OrderURL  string
	AuthToken string
	Currency  string
	Theme     string
	Timeout   time.Duration
	SDK       SDK
	Logger    *logger.Logger
}

// NewBridge validates the options and builds the bridge. Timeout bounds only
// the order-creation call; the SDK bounds itself.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.OrderURL == "" {
		return nil, fmt.Errorf("payment order url required")
	}
	if opts.SDK == nil {
		return nil, fmt.Errorf("payment sdk required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Bridge{
		orderURL:  opts.OrderURL,
		authToken: opts.AuthToken,
		currency:  opts.Currency,
		theme:     opts.Theme,
		client:    &http.Client{Timeout: opts.Timeout},
		sdk:       opts.SDK,
		logg:      opts.Logger,
	}, nil
}

// OrderRef identifies the order being paid for.
type OrderRef struct {
	CartID            string
	Handle            *initiation.Handle
	DeliveryAddressID string
}

// Pay creates the remote payment-order record, then drives the SDK. Both
// steps must succeed. The orchestrator calls CreateOrder and Charge
// separately when it needs to observe the step boundary; Pay composes them.
func (b *Bridge) Pay(ctx context.Context, ref OrderRef, grandTotal decimal.Decimal, buyer BuyerProfile) (*Result, error) {
	gatewayOrderID, err := b.CreateOrder(ctx, ref, grandTotal)
	if err != nil {
		return nil, err
	}
	return b.Charge(ctx, gatewayOrderID, grandTotal, buyer)
}

// CreateOrder runs step one: the synchronous payment-order creation call.
func (b *Bridge) CreateOrder(ctx context.Context, ref OrderRef, grandTotal decimal.Decimal) (string, error) {
	if ref.Handle == nil || ref.Handle.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodePayment, "initiation handle required")
	}
	if grandTotal.Sign() <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "grand total must be positive")
	}

	gatewayOrderID, err := b.createOrder(ctx, ref)
	if err != nil {
		return "", err
	}

	if b.logg != nil {
		b.logg.Info(b.logg.WithField(ctx, "gateway_order_id", gatewayOrderID), "payment order created")
	}
	return gatewayOrderID, nil
}

// Charge runs step two: hand the order to the external SDK and await its
// resolution.
func (b *Bridge) Charge(ctx context.Context, gatewayOrderID string, grandTotal decimal.Decimal, buyer BuyerProfile) (*Result, error) {
	reference, err := b.sdk.Pay(ctx, Checkout{
		Amount:   money.MinorUnits(grandTotal),
		Currency: b.currency,
		OrderID:  gatewayOrderID,
		Prefill:  buyer,
		Theme:    b.theme,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "payment sdk failed")
	}
	return &Result{GatewayOrderID: gatewayOrderID, PaymentReference: reference}, nil
}

type orderCreateRequest struct {
	CartID            string `json:"cartId"`
	OninitID          string `json:"oninitId"`
	DeliveryAddressID string `json:"deliveryAddressId"`
}

func (b *Bridge) createOrder(ctx context.Context, ref OrderRef) (string, error) {
	body, err := json.Marshal(orderCreateRequest{
		CartID:            ref.CartID,
		OninitID:          ref.Handle.ID,
		DeliveryAddressID: ref.DeliveryAddressID,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment order request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.orderURL, bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payment order request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePayment, err, "payment order call failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePayment, err, "read payment order response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pkgerrors.New(pkgerrors.CodePayment,
			fmt.Sprintf("payment order returned status %d", resp.StatusCode))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePayment, err, "malformed payment order response")
	}
	if created.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodePayment, "payment order response missing id")
	}
	return created.ID, nil
}
