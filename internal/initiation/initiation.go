// Package initiation drives the "init" duplex session that locks the
// reconciled order with the seller before payment.
package initiation

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

const (
	actionInit   = "init"
	actionOnInit = "on_init"
)

// Request locks a quote for a user and delivery address.
type Request struct {
	QuoteID           string `json:"quote_id" validate:"required"`
	UserID            string `json:"user_id" validate:"required"`
	DeliveryAddressID string `json:"delivery_address_id" validate:"required"`
}

// Handle is the initiation handle the seller issues. It keys both the payment
// order and the final confirmation.
type Handle struct {
	ID       string `json:"id"`
	QuoteID  string `json:"quote_id"`
	SellerID string `json:"seller_id,omitempty"`
}

// Initiator locks a reconciled order. Never retries internally.
type Initiator interface {
	Initiate(ctx context.Context, req Request) (*Handle, error)
}

// ChannelInitiator runs the init exchange over a duplex session.
type ChannelInitiator struct {
	channel  *session.Channel
	validate *validator.Validate
}

// ReplyAction is the action tag the initiation session waits for.
func ReplyAction() string { return actionOnInit }

func NewChannelInitiator(channel *session.Channel) (*ChannelInitiator, error) {
	if channel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session channel required")
	}
	return &ChannelInitiator{
		channel:  channel,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (i *ChannelInitiator) Initiate(ctx context.Context, req Request) (*Handle, error) {
	if err := i.validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid initiation request")
	}

	env := session.Envelope{
		Context: session.NewContext(actionInit, req.QuoteID),
		Message: req,
	}
	data, err := i.channel.Exchange(ctx, env)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInitiation, err, "initiation failed")
	}

	var reply struct {
		Message struct {
			Handle Handle `json:"handle"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInitiation, err, "malformed initiation reply")
	}
	if reply.Message.Handle.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInitiation, "initiation reply missing handle")
	}
	handle := reply.Message.Handle
	if handle.QuoteID == "" {
		handle.QuoteID = req.QuoteID
	}
	return &handle, nil
}
