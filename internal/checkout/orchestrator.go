// Package checkout sequences the transaction: negotiate a quote, reconcile
// it against the cart, initiate, pay, confirm. The orchestrator is the only
// component with cross-stage memory and the only place that transitions to a
// terminal stage.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nmoreno-dev/shopstream-checkout/internal/cart"
	"github.com/nmoreno-dev/shopstream-checkout/internal/confirm"
	"github.com/nmoreno-dev/shopstream-checkout/internal/identity"
	"github.com/nmoreno-dev/shopstream-checkout/internal/initiation"
	"github.com/nmoreno-dev/shopstream-checkout/internal/payment"
	"github.com/nmoreno-dev/shopstream-checkout/internal/quote"
	"github.com/nmoreno-dev/shopstream-checkout/internal/reconcile"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/metrics"
)

// PaymentBridge is the two-step payment sub-flow contract.
type PaymentBridge interface {
	CreateOrder(ctx context.Context, ref payment.OrderRef, grandTotal decimal.Decimal) (string, error)
	Charge(ctx context.Context, gatewayOrderID string, grandTotal decimal.Decimal, buyer payment.BuyerProfile) (*payment.Result, error)
}

// Deps are the orchestrator's collaborators, injected at construction so the
// transaction logic is testable without ambient singletons.
type Deps struct {
	Cart       cart.Provider
	Identity   identity.Provider
	Negotiator quote.Negotiator
	Initiator  initiation.Initiator
	Payments   PaymentBridge
	Confirmer  confirm.Confirmer

	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics

	// MaxPaymentRetries caps user-triggered re-attempts of the payment
	// sub-flow after the first failure.
	MaxPaymentRetries int
}

// Orchestrator owns exactly one TransactionSession. It is not reusable:
// one checkout attempt, one orchestrator.
type Orchestrator struct {
	deps Deps

	mu           sync.Mutex
	snap         Snapshot
	stageEntered time.Time
	busy         bool
	cancelOp     context.CancelFunc
	cartCleared  bool
	user         *identity.User
	address      *identity.Address
	handle       *initiation.Handle
	subs         []chan Snapshot

	openChannels    atomic.Int32
	maxOpenChannels atomic.Int32
}

// New validates the dependencies and builds an orchestrator in IDLE.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Cart == nil {
		return nil, fmt.Errorf("cart provider required")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if deps.Negotiator == nil {
		return nil, fmt.Errorf("negotiator required")
	}
	if deps.Initiator == nil {
		return nil, fmt.Errorf("initiator required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment bridge required")
	}
	if deps.Confirmer == nil {
		return nil, fmt.Errorf("confirmer required")
	}
	if deps.MaxPaymentRetries < 0 {
		return nil, fmt.Errorf("payment retry cap must be non-negative")
	}
	return &Orchestrator{
		deps: deps,
		snap: Snapshot{
			SessionID: uuid.NewString(),
			Stage:     StageIdle,
		},
		stageEntered: time.Now(),
	}, nil
}

// Current returns the latest session snapshot.
func (o *Orchestrator) Current() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap.clone()
}

// Snapshots subscribes to session updates. Slow subscribers miss updates
// rather than blocking the transaction.
func (o *Orchestrator) Snapshots() <-chan Snapshot {
	ch := make(chan Snapshot, 32)
	o.mu.Lock()
	o.subs = append(o.subs, ch)
	o.mu.Unlock()
	return ch
}

// MaxOpenChannels reports the highest number of simultaneously open duplex
// sessions observed; it must never exceed one.
func (o *Orchestrator) MaxOpenChannels() int32 {
	return o.maxOpenChannels.Load()
}

// Start runs the negotiation half of the transaction: precondition checks,
// one negotiation exchange, reconciliation and breakup. It leaves the
// session in QUOTED on success. Not retried automatically; the caller
// re-invokes on transient failure with a fresh orchestrator.
func (o *Orchestrator) Start(ctx context.Context, storeID string) error {
	if err := o.begin(StageIdle); err != nil {
		return err
	}
	defer o.end()

	address, err := o.deps.Identity.SelectedAddress(ctx)
	if err != nil {
		failErr := pkgerrors.Wrap(pkgerrors.CodePrecondition, err, "no delivery address selected")
		o.failWith(failErr, func(view *ErrorView) { view.NeedsAddress = true })
		return failErr
	}
	user, err := o.deps.Identity.CurrentUser(ctx)
	if err != nil {
		failErr := pkgerrors.Wrap(pkgerrors.CodePrecondition, err, "no user session")
		o.fail(failErr)
		return failErr
	}

	snapshot, err := o.deps.Cart.Snapshot(ctx, storeID)
	if err != nil {
		failErr := pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading cart")
		o.fail(failErr)
		return failErr
	}
	if len(snapshot.Lines) == 0 {
		failErr := pkgerrors.New(pkgerrors.CodePrecondition, "cart is empty")
		o.fail(failErr)
		return failErr
	}

	o.mu.Lock()
	o.user = user
	o.address = address
	o.snap.Cart = snapshot
	o.mu.Unlock()

	if err := o.advance(StageNegotiating); err != nil {
		return err
	}

	var q *quote.Quote
	err = o.withChannel(ctx, func(opCtx context.Context) error {
		var negotiateErr error
		q, negotiateErr = o.deps.Negotiator.Negotiate(opCtx, quote.Request{
			CartID:    snapshot.CartID,
			AddressID: address.AddressID,
			City:      address.City,
			State:     address.State,
			UserID:    user.UserID,
		})
		return negotiateErr
	})
	if err != nil {
		o.fail(err)
		return err
	}

	o.applyQuote(snapshot, q)
	return o.advance(StageQuoted)
}

// applyQuote derives the reconciliation and breakup views from a fresh
// quote. Derived state is rebuilt wholesale, never patched.
func (o *Orchestrator) applyQuote(snapshot *cart.Snapshot, q *quote.Quote) {
	result := reconcile.Reconcile(snapshot.Lines, q.Lines)
	summaries := quote.Summaries(q)

	selected := ""
	if len(q.Fulfillments) > 0 {
		for _, f := range q.Fulfillments {
			if f.Serviceable {
				selected = f.ID
				break
			}
		}
	}

	summary := summaries[selected]
	summary.Savings = result.TotalSavings

	o.mu.Lock()
	defer o.mu.Unlock()
	o.snap.Quote = q
	o.snap.Reconciled = &result
	o.snap.BreakupByFulfillment = summaries
	o.snap.SelectedFulfillmentID = selected
	o.snap.Breakup = &summary
	o.snap.PaymentEnabled = result.AllAvailable && summary.GrandTotal.Sign() > 0
	o.snap.LastError = nil
}

// SelectFulfillment switches the active fulfillment option while QUOTED.
func (o *Orchestrator) SelectFulfillment(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.snap.Stage != StageQuoted {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment can only change while quoted")
	}
	option, ok := o.snap.Quote.Fulfillment(id)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown fulfillment option")
	}
	if !option.Serviceable {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment option not serviceable")
	}

	summary := o.snap.BreakupByFulfillment[id]
	summary.Savings = o.snap.Reconciled.TotalSavings
	o.snap.SelectedFulfillmentID = id
	o.snap.Breakup = &summary
	o.snap.PaymentEnabled = o.snap.Reconciled.AllAvailable && summary.GrandTotal.Sign() > 0
	o.publishLocked()
	return nil
}

// Pay is the user's payment gesture. It re-validates availability and total,
// locks the order, runs the payment sub-flow and confirms with the seller.
func (o *Orchestrator) Pay(ctx context.Context) error {
	if err := o.begin(StageQuoted); err != nil {
		return err
	}
	defer o.end()

	if err := o.advance(StageAuthorizingPayment); err != nil {
		return err
	}

	if err := o.validateForPayment(); err != nil {
		// Recoverable: back to QUOTED with the validation error surfaced.
		o.mu.Lock()
		o.snap.LastError = errorView(err)
		o.mu.Unlock()
		if advErr := o.advance(StageQuoted); advErr != nil {
			return advErr
		}
		return err
	}

	if err := o.advance(StageInitiating); err != nil {
		return err
	}

	o.mu.Lock()
	initReq := initiation.Request{
		QuoteID:           o.snap.Quote.ID,
		UserID:            o.user.UserID,
		DeliveryAddressID: o.address.AddressID,
	}
	o.mu.Unlock()

	var handle *initiation.Handle
	err := o.withChannel(ctx, func(opCtx context.Context) error {
		var initErr error
		handle, initErr = o.deps.Initiator.Initiate(opCtx, initReq)
		return initErr
	})
	if err != nil {
		o.fail(err)
		return err
	}

	o.mu.Lock()
	o.handle = handle
	o.snap.InitiationID = handle.ID
	o.mu.Unlock()

	if err := o.advance(StageInitDone); err != nil {
		return err
	}

	if err := o.runPaymentAttempt(ctx); err != nil {
		return err
	}
	return o.completeConfirmation(ctx)
}

// RetryPayment re-runs the payment sub-flow after a failure, always starting
// from order creation: a stale gateway order cannot be reused.
func (o *Orchestrator) RetryPayment(ctx context.Context) error {
	if err := o.begin(StageInitDone); err != nil {
		return err
	}
	defer o.end()

	o.mu.Lock()
	attempts := o.snap.PaymentAttempts
	o.mu.Unlock()
	if attempts > o.deps.MaxPaymentRetries {
		failErr := pkgerrors.New(pkgerrors.CodePayment, "payment retry cap exhausted")
		o.fail(failErr)
		return failErr
	}

	if err := o.runPaymentAttempt(ctx); err != nil {
		return err
	}
	return o.completeConfirmation(ctx)
}

func (o *Orchestrator) runPaymentAttempt(ctx context.Context) error {
	o.mu.Lock()
	o.snap.PaymentAttempts++
	grandTotal := o.snap.Breakup.GrandTotal
	ref := payment.OrderRef{
		CartID:            o.snap.Cart.CartID,
		Handle:            o.handle,
		DeliveryAddressID: o.address.AddressID,
	}
	buyer := payment.BuyerProfile{
		UserID:    o.user.UserID,
		FirstName: o.user.FirstName,
		LastName:  o.user.LastName,
		Email:     o.user.Email,
		Phone:     o.user.PhoneNumber,
	}
	o.mu.Unlock()

	if err := o.advance(StageCreatingPaymentOrder); err != nil {
		return err
	}

	opCtx, cancel := o.operationContext(ctx)
	defer cancel()

	gatewayOrderID, err := o.deps.Payments.CreateOrder(opCtx, ref, grandTotal)
	if err != nil {
		return o.paymentAttemptFailed(err)
	}

	o.mu.Lock()
	o.snap.GatewayOrderID = gatewayOrderID
	o.mu.Unlock()

	if err := o.advance(StageAwaitingGateway); err != nil {
		return err
	}

	result, err := o.deps.Payments.Charge(opCtx, gatewayOrderID, grandTotal, buyer)
	if err != nil {
		return o.paymentAttemptFailed(err)
	}

	o.mu.Lock()
	o.snap.PaymentReference = result.PaymentReference
	o.mu.Unlock()

	return o.advance(StagePaymentConfirmed)
}

// paymentAttemptFailed parks the session back in INIT_DONE when re-attempts
// remain, otherwise fails terminally.
func (o *Orchestrator) paymentAttemptFailed(err error) error {
	o.mu.Lock()
	attemptsUsed := o.snap.PaymentAttempts
	cancelled := o.snap.Stage == StageCancelled
	o.mu.Unlock()
	if cancelled {
		return err
	}

	if attemptsUsed > o.deps.MaxPaymentRetries {
		o.fail(err)
		return err
	}

	o.mu.Lock()
	o.snap.LastError = errorView(err)
	o.snap.GatewayOrderID = ""
	o.mu.Unlock()
	if advErr := o.advance(StageInitDone); advErr != nil {
		return advErr
	}
	return err
}

func (o *Orchestrator) completeConfirmation(ctx context.Context) error {
	if err := o.advance(StageConfirming); err != nil {
		return err
	}

	o.mu.Lock()
	req := confirm.Request{
		InitiationID:     o.snap.InitiationID,
		UserID:           o.user.UserID,
		PaymentReference: o.snap.PaymentReference,
		GatewayOrderID:   o.snap.GatewayOrderID,
	}
	o.mu.Unlock()

	var orderID string
	err := o.withChannel(ctx, func(opCtx context.Context) error {
		var confirmErr error
		orderID, confirmErr = o.deps.Confirmer.Confirm(opCtx, req)
		return confirmErr
	})
	if err != nil {
		// Funds already moved: never surface this as a payment failure.
		pendingErr := pkgerrors.Wrap(pkgerrors.CodeConfirmationPending, err, "seller confirmation pending")
		o.fail(pendingErr)
		return pendingErr
	}

	o.mu.Lock()
	o.snap.OrderID = orderID
	o.mu.Unlock()

	if err := o.advance(StageConfirmed); err != nil {
		return err
	}
	o.clearCartOnce(ctx)
	return nil
}

// clearCartOnce fires the single cart-invalidation side effect. A clear
// failure is logged, not surfaced: the order is already confirmed.
func (o *Orchestrator) clearCartOnce(ctx context.Context) {
	o.mu.Lock()
	if o.cartCleared {
		o.mu.Unlock()
		return
	}
	o.cartCleared = true
	storeID := o.snap.Cart.StoreID
	token := o.user.AccessToken
	o.mu.Unlock()

	if err := o.deps.Cart.Clear(ctx, storeID, token); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Error(ctx, "clearing cart after confirmed order", err)
	}
}

// Cancel abandons the transaction. Any in-flight duplex session is closed
// via context cancellation; the session lands in CANCELLED exactly once.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.snap.Stage.Terminal() {
		o.mu.Unlock()
		return
	}
	from := o.snap.Stage
	o.snap.Stage = StageCancelled
	o.snap.LastError = errorView(pkgerrors.New(pkgerrors.CodeCancelled, "checkout cancelled by user"))
	cancelOp := o.cancelOp
	o.observeTransitionLocked(from, StageCancelled)
	o.publishLocked()
	o.mu.Unlock()

	if cancelOp != nil {
		cancelOp()
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveOutcome("cancelled", string(pkgerrors.CodeCancelled))
	}
}

// begin guards against concurrent entry points and wrong-stage calls.
func (o *Orchestrator) begin(expected Stage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return pkgerrors.New(pkgerrors.CodeValidation, "operation already in progress")
	}
	if o.snap.Stage != expected {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("operation requires stage %s, session is %s", expected, o.snap.Stage))
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func (o *Orchestrator) validateForPayment() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap.Reconciled == nil || !o.snap.Reconciled.AllAvailable {
		return pkgerrors.New(pkgerrors.CodeValidation, "some items are no longer available")
	}
	if o.snap.Breakup == nil || o.snap.Breakup.GrandTotal.Sign() <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "grand total must be positive")
	}
	return nil
}

// advance performs a legal stage transition and publishes the new snapshot.
func (o *Orchestrator) advance(to Stage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.snap.Stage
	if from == StageCancelled {
		return pkgerrors.New(pkgerrors.CodeCancelled, "checkout cancelled")
	}
	if !CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeInternal,
			fmt.Sprintf("illegal transition %s → %s", from, to))
	}
	o.snap.Stage = to
	// Stages the user acts from keep the error view of the step that
	// parked the session there; forward progress clears it.
	if to != StageQuoted && to != StageInitDone && !to.Terminal() {
		o.snap.LastError = nil
	}
	o.observeTransitionLocked(from, to)
	o.publishLocked()

	if o.deps.Logger != nil {
		ctx := o.deps.Logger.WithFields(context.Background(), map[string]any{
			"session_id": o.snap.SessionID,
			"from":       string(from),
			"to":         string(to),
		})
		o.deps.Logger.Info(ctx, "checkout stage transition")
	}
	if to == StageConfirmed && o.deps.Metrics != nil {
		o.deps.Metrics.ObserveOutcome("confirmed", "")
	}
	return nil
}

// fail is the sole path into FAILED.
func (o *Orchestrator) fail(err error) {
	o.failWith(err, nil)
}

func (o *Orchestrator) failWith(err error, decorate func(*ErrorView)) {
	o.mu.Lock()
	if o.snap.Stage.Terminal() {
		o.mu.Unlock()
		return
	}
	from := o.snap.Stage
	view := errorView(err)
	if decorate != nil {
		decorate(view)
	}
	o.snap.Stage = StageFailed
	o.snap.LastError = view
	o.observeTransitionLocked(from, StageFailed)
	o.publishLocked()
	o.mu.Unlock()

	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveOutcome("failed", string(view.Code))
	}
	if o.deps.Logger != nil {
		ctx := o.deps.Logger.WithFields(context.Background(), map[string]any{
			"session_id": o.snap.SessionID,
			"code":       string(view.Code),
		})
		o.deps.Logger.Error(ctx, "checkout failed", err)
	}
}

// withChannel runs one duplex exchange, enforcing the single-flight session
// policy and wiring user cancellation into the operation context.
func (o *Orchestrator) withChannel(ctx context.Context, fn func(ctx context.Context) error) error {
	open := o.openChannels.Add(1)
	for {
		observed := o.maxOpenChannels.Load()
		if open <= observed || o.maxOpenChannels.CompareAndSwap(observed, open) {
			break
		}
	}
	defer o.openChannels.Add(-1)

	if open > 1 {
		return pkgerrors.New(pkgerrors.CodeInternal, "concurrent duplex session detected")
	}

	opCtx, cancel := o.operationContext(ctx)
	defer cancel()
	return fn(opCtx)
}

func (o *Orchestrator) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelOp = cancel
	o.mu.Unlock()
	return opCtx, func() {
		o.mu.Lock()
		o.cancelOp = nil
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) observeTransitionLocked(from, to Stage) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveTransition(string(from), string(to))
		o.deps.Metrics.ObserveStageDuration(string(from), time.Since(o.stageEntered))
	}
	o.stageEntered = time.Now()
}

func (o *Orchestrator) publishLocked() {
	snapshot := o.snap.clone()
	for _, sub := range o.subs {
		select {
		case sub <- snapshot:
		default:
		}
	}
}
