// Package confirm drives the "confirm" duplex session that finalizes an
// order after payment. Confirmation runs strictly after funds moved, so every
// failure here is surfaced as confirmation-pending, never as a payment
// failure.
package confirm

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

const (
	actionConfirm   = "confirm"
	actionOnConfirm = "on_confirm"
)

// Request finalizes the order identified by the initiation handle.
type Request struct {
	InitiationID     string `json:"initiation_id" validate:"required"`
	UserID           string `json:"user_id" validate:"required"`
	PaymentReference string `json:"payment_reference" validate:"required"`
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
}

// Confirmer awaits the seller's acknowledgment of the finalized order.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (orderID string, err error)
}

// ChannelConfirmer runs the confirm exchange over a duplex session. The
// channel must carry a connection timeout: silence for the whole window is an
// error, and so is a clean close before any reply.
type ChannelConfirmer struct {
	channel  *session.Channel
	validate *validator.Validate
}

// ReplyAction is the action tag the confirmation session waits for.
func ReplyAction() string { return actionOnConfirm }

func NewChannelConfirmer(channel *session.Channel) (*ChannelConfirmer, error) {
	if channel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session channel required")
	}
	return &ChannelConfirmer{
		channel:  channel,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (c *ChannelConfirmer) Confirm(ctx context.Context, req Request) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid confirmation request")
	}

	env := session.Envelope{
		Context: session.NewContext(actionConfirm, req.InitiationID),
		Message: req,
	}
	data, err := c.channel.Exchange(ctx, env)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeConfirmation, err, "confirmation failed")
	}

	var reply struct {
		Message struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeConfirmation, err, "malformed confirmation reply")
	}
	if reply.Message.Order.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeConfirmation, "confirmation reply missing order id")
	}
	return reply.Message.Order.ID, nil
}
