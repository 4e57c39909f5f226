package checkout

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/internal/cart"
	"github.com/nmoreno-dev/shopstream-checkout/internal/confirm"
	"github.com/nmoreno-dev/shopstream-checkout/internal/identity"
	"github.com/nmoreno-dev/shopstream-checkout/internal/initiation"
	"github.com/nmoreno-dev/shopstream-checkout/internal/payment"
	"github.com/nmoreno-dev/shopstream-checkout/internal/quote"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

type fakeCart struct {
	snapshot   *cart.Snapshot
	snapErr    error
	clearCalls atomic.Int32
	clearErr   error
}

func (f *fakeCart) Snapshot(ctx context.Context, storeID string) (*cart.Snapshot, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.snapshot, nil
}

func (f *fakeCart) Clear(ctx context.Context, storeID, authToken string) error {
	f.clearCalls.Add(1)
	return f.clearErr
}

type fakeIdentity struct {
	user    *identity.User
	addr    *identity.Address
	userErr error
	addrErr error
}

func (f *fakeIdentity) CurrentUser(ctx context.Context) (*identity.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

func (f *fakeIdentity) SelectedAddress(ctx context.Context) (*identity.Address, error) {
	if f.addrErr != nil {
		return nil, f.addrErr
	}
	return f.addr, nil
}

type fakeNegotiator struct {
	quote *quote.Quote
	err   error
	calls atomic.Int32
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

type fakeInitiator struct {
	handle *initiation.Handle
	err    error
	calls  atomic.Int32
}

func (f *fakeInitiator) Initiate(ctx context.Context, req initiation.Request) (*initiation.Handle, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

// fakeBridge fails CreateOrder or Charge for the first failCreate/failCharge
// invocations, then succeeds.
type fakeBridge struct {
	failCreate  int
	failCharge  int
	createCalls atomic.Int32
	chargeCalls atomic.Int32
}

func (f *fakeBridge) CreateOrder(ctx context.Context, ref payment.OrderRef, grandTotal decimal.Decimal) (string, error) {
	n := f.createCalls.Add(1)
	if int(n) <= f.failCreate {
		return "", pkgerrors.New(pkgerrors.CodePayment, "order create rejected")
	}
	return fmt.Sprintf("gw-order-%d", n), nil
}

func (f *fakeBridge) Charge(ctx context.Context, gatewayOrderID string, grandTotal decimal.Decimal, buyer payment.BuyerProfile) (*payment.Result, error) {
	n := f.chargeCalls.Add(1)
	if int(n) <= f.failCharge {
		return nil, pkgerrors.New(pkgerrors.CodePayment, "card declined")
	}
	return &payment.Result{GatewayOrderID: gatewayOrderID, PaymentReference: "pay-ref-1"}, nil
}

type fakeConfirmer struct {
	orderID string
	err     error
	calls   atomic.Int32
}

func (f *fakeConfirmer) Confirm(ctx context.Context, req confirm.Request) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.orderID, nil
}

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testCart() *cart.Snapshot {
	return &cart.Snapshot{
		CartID:  "cart-1",
		StoreID: "store-1",
		Lines: []cart.Line{
			{CatalogID: "sku-a", Quantity: 2, UnitPrice: price(100), MaxUnitPrice: price(120), MaxAvailable: 10, MaxOrderable: 5},
			{CatalogID: "sku-b", Quantity: 1, UnitPrice: price(50), MaxUnitPrice: price(50), MaxAvailable: 10, MaxOrderable: 5},
		},
	}
}

func testQuote() *quote.Quote {
	return &quote.Quote{
		ID: "quote-1",
		Lines: []quote.Line{
			{CatalogID: "sku-a", Quantity: 2, UnitPrice: price(90), AvailableQuantity: 10, MaxQuantity: 5},
			{CatalogID: "sku-b", Quantity: 1, UnitPrice: price(50), AvailableQuantity: 10, MaxQuantity: 5},
		},
		Breakup: []quote.BreakupEntry{
			{Type: quote.EntryItem, RefID: "sku-a", UnitPrice: price(90), Quantity: 2},
			{Type: quote.EntryItem, RefID: "sku-b", UnitPrice: price(50), Quantity: 1},
			{Type: quote.EntryDelivery, Amount: price(30)},
		},
		Fulfillments: []quote.FulfillmentOption{
			{ID: "express", Category: "Express Delivery", Serviceable: true},
			{ID: "standard", Category: "Standard Delivery", Serviceable: true},
		},
	}
}

type harness struct {
	cart       *fakeCart
	identity   *fakeIdentity
	negotiator *fakeNegotiator
	initiator  *fakeInitiator
	bridge     *fakeBridge
	confirmer  *fakeConfirmer
}

func newHarness() *harness {
	return &harness{
		cart: &fakeCart{snapshot: testCart()},
		identity: &fakeIdentity{
			user: &identity.User{UserID: "user-1", AccessToken: "tok", FirstName: "Asha", Email: "asha@example.com"},
			addr: &identity.Address{AddressID: "addr-1", City: "Pune", State: "MH"},
		},
		negotiator: &fakeNegotiator{quote: testQuote()},
		initiator:  &fakeInitiator{handle: &initiation.Handle{ID: "init-1", QuoteID: "quote-1", SellerID: "seller-1"}},
		bridge:     &fakeBridge{},
		confirmer:  &fakeConfirmer{orderID: "order-1"},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(Deps{
		Cart:              h.cart,
		Identity:          h.identity,
		Negotiator:        h.negotiator,
		Initiator:         h.initiator,
		Payments:          h.bridge,
		Confirmer:         h.confirmer,
		MaxPaymentRetries: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestHappyPath(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := o.Current()
	if snap.Stage != StageQuoted {
		t.Fatalf("stage = %s, want QUOTED", snap.Stage)
	}
	if !snap.PaymentEnabled {
		t.Fatal("payment should be enabled")
	}
	// 2*90 + 50 items, 30 delivery.
	if got := snap.GrandTotal(); !got.Equal(price(260)) {
		t.Fatalf("grand total = %s, want 260", got)
	}
	// sku-a saved (120-90)*2, sku-b saved nothing.
	if got := snap.Breakup.Savings; !got.Equal(price(60)) {
		t.Fatalf("savings = %s, want 60", got)
	}
	if snap.SelectedFulfillmentID != "express" {
		t.Fatalf("selected fulfillment = %q, want first serviceable", snap.SelectedFulfillmentID)
	}

	if err := o.Pay(ctx); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	snap = o.Current()
	if snap.Stage != StageConfirmed {
		t.Fatalf("stage = %s, want CONFIRMED", snap.Stage)
	}
	if snap.OrderID != "order-1" {
		t.Fatalf("order id = %q", snap.OrderID)
	}
	if snap.PaymentAttempts != 1 {
		t.Fatalf("payment attempts = %d, want 1", snap.PaymentAttempts)
	}
	if got := h.cart.clearCalls.Load(); got != 1 {
		t.Fatalf("cart cleared %d times, want exactly 1", got)
	}
	if got := o.MaxOpenChannels(); got > 1 {
		t.Fatalf("observed %d concurrent duplex sessions", got)
	}
}

func TestStartRequiresAddress(t *testing.T) {
	h := newHarness()
	h.identity.addrErr = identity.ErrNotFound
	o := h.orchestrator(t)

	err := o.Start(context.Background(), "store-1")
	if pkgerrors.CodeOf(err) != pkgerrors.CodePrecondition {
		t.Fatalf("code = %s, want precondition", pkgerrors.CodeOf(err))
	}
	snap := o.Current()
	if snap.Stage != StageFailed {
		t.Fatalf("stage = %s, want FAILED", snap.Stage)
	}
	if snap.LastError == nil || !snap.LastError.NeedsAddress {
		t.Fatal("error view must route to address selection")
	}
	if h.negotiator.calls.Load() != 0 {
		t.Fatal("must not negotiate without an address")
	}
}

func TestStartEmptyCart(t *testing.T) {
	h := newHarness()
	h.cart.snapshot = &cart.Snapshot{CartID: "cart-1", StoreID: "store-1"}
	o := h.orchestrator(t)

	err := o.Start(context.Background(), "store-1")
	if pkgerrors.CodeOf(err) != pkgerrors.CodePrecondition {
		t.Fatalf("code = %s, want precondition", pkgerrors.CodeOf(err))
	}
	if h.negotiator.calls.Load() != 0 {
		t.Fatal("must not negotiate an empty cart")
	}
}

func TestPayBlockedWhenItemUnavailable(t *testing.T) {
	h := newHarness()
	// sku-b never comes back in the quote.
	h.negotiator.quote.Lines = h.negotiator.quote.Lines[:1]
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := o.Current()
	if snap.PaymentEnabled {
		t.Fatal("payment must be disabled with an unavailable item")
	}

	err := o.Pay(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("code = %s, want validation", pkgerrors.CodeOf(err))
	}
	snap = o.Current()
	if snap.Stage != StageQuoted {
		t.Fatalf("stage = %s, want back in QUOTED", snap.Stage)
	}
	if snap.LastError == nil {
		t.Fatal("validation error must be surfaced")
	}
	if h.initiator.calls.Load() != 0 {
		t.Fatal("must not initiate when validation fails")
	}
}

func TestSelectFulfillment(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.SelectFulfillment("standard"); err != nil {
		t.Fatalf("SelectFulfillment: %v", err)
	}
	snap := o.Current()
	if snap.SelectedFulfillmentID != "standard" {
		t.Fatalf("selected = %q", snap.SelectedFulfillmentID)
	}
	if !snap.Breakup.Savings.Equal(price(60)) {
		t.Fatal("savings must survive a fulfillment switch")
	}

	if err := o.SelectFulfillment("drone"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("unknown option: code = %s, want validation", pkgerrors.CodeOf(err))
	}
}

func TestPaymentRetryRestartsAtOrderCreation(t *testing.T) {
	h := newHarness()
	h.bridge.failCharge = 1
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := o.Pay(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodePayment {
		t.Fatalf("code = %s, want payment", pkgerrors.CodeOf(err))
	}
	snap := o.Current()
	if snap.Stage != StageInitDone {
		t.Fatalf("stage = %s, want INIT_DONE for retry", snap.Stage)
	}
	if snap.GatewayOrderID != "" {
		t.Fatal("stale gateway order must be discarded")
	}

	if err := o.RetryPayment(ctx); err != nil {
		t.Fatalf("RetryPayment: %v", err)
	}
	snap = o.Current()
	if snap.Stage != StageConfirmed {
		t.Fatalf("stage = %s, want CONFIRMED", snap.Stage)
	}
	// Retry must not reuse the first gateway order: a fresh create per attempt.
	if got := h.bridge.createCalls.Load(); got != 2 {
		t.Fatalf("order created %d times, want 2", got)
	}
	if snap.PaymentAttempts != 2 {
		t.Fatalf("payment attempts = %d, want 2", snap.PaymentAttempts)
	}
	if h.initiator.calls.Load() != 1 {
		t.Fatal("retry must not re-initiate")
	}
}

func TestPaymentRetryCap(t *testing.T) {
	h := newHarness()
	h.bridge.failCreate = 100
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Pay(ctx); err == nil {
		t.Fatal("Pay should fail")
	}
	for i := 0; i < 2; i++ {
		err := o.RetryPayment(ctx)
		if err == nil {
			t.Fatal("retry should fail")
		}
	}
	// First attempt plus two re-attempts used up; the pool is exhausted.
	snap := o.Current()
	if snap.Stage != StageFailed {
		t.Fatalf("stage = %s, want FAILED after exhausting retries", snap.Stage)
	}
	if err := o.RetryPayment(ctx); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("retry from terminal: code = %s, want validation", pkgerrors.CodeOf(err))
	}
}

func TestConfirmFailureIsFundsSafe(t *testing.T) {
	h := newHarness()
	h.confirmer.err = pkgerrors.New(pkgerrors.CodeTimeout, "reply deadline exceeded")
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := o.Pay(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConfirmationPending {
		t.Fatalf("code = %s, want confirmation-pending", pkgerrors.CodeOf(err))
	}
	snap := o.Current()
	if snap.Stage != StageFailed {
		t.Fatalf("stage = %s, want FAILED", snap.Stage)
	}
	if snap.LastError == nil || !snap.LastError.FundsSafe {
		t.Fatal("confirmation failure must be marked funds-safe")
	}
	if snap.PaymentReference == "" {
		t.Fatal("payment reference must be retained for reconciliation")
	}
	if h.cart.clearCalls.Load() != 0 {
		t.Fatal("cart must not be cleared on an unconfirmed order")
	}
}

func TestCancel(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Cancel()
	o.Cancel() // idempotent

	snap := o.Current()
	if snap.Stage != StageCancelled {
		t.Fatalf("stage = %s, want CANCELLED", snap.Stage)
	}
	if err := o.Pay(ctx); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("pay after cancel: code = %s, want validation", pkgerrors.CodeOf(err))
	}
}

func TestSnapshotsStream(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	updates := o.Snapshots()

	if err := o.Start(context.Background(), "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var sawQuoted bool
	for len(updates) > 0 {
		snap := <-updates
		if snap.Stage == StageQuoted {
			sawQuoted = true
		}
	}
	if !sawQuoted {
		t.Fatal("subscriber should observe the QUOTED snapshot")
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx, "store-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(ctx, "store-1"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("second start: code = %s, want validation", pkgerrors.CodeOf(err))
	}
}
