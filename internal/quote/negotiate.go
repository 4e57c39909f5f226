package quote

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
)

const (
	actionSelect   = "select"
	actionOnSelect = "on_select"
)

// Request carries everything the seller needs to price a cart against a
// delivery address.
type Request struct {
	CartID    string `json:"cart_id" validate:"required"`
	AddressID string `json:"address_id" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
}

// Negotiator obtains a live quote for a cart. Implementations never retry;
// the caller re-invokes on failure.
type Negotiator interface {
	Negotiate(ctx context.Context, req Request) (*Quote, error)
}

// ChannelNegotiator drives the "select" duplex session.
type ChannelNegotiator struct {
	channel  *session.Channel
	validate *validator.Validate
}

// NewChannelNegotiator builds a negotiator over the given session channel.
// The channel must be configured with the on_select reply action.
func NewChannelNegotiator(channel *session.Channel) (*ChannelNegotiator, error) {
	if channel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session channel required")
	}
	return &ChannelNegotiator{
		channel:  channel,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// ReplyAction is the action tag the negotiation session waits for.
func ReplyAction() string { return actionOnSelect }

func (n *ChannelNegotiator) Negotiate(ctx context.Context, req Request) (*Quote, error) {
	if err := n.validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid negotiation request")
	}

	env := session.Envelope{
		Context: session.NewContext(actionSelect, req.CartID),
		Message: req,
	}
	data, err := n.channel.Exchange(ctx, env)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "negotiation failed")
	}

	q, err := decodeQuoteReply(data)
	if err != nil {
		return nil, err
	}
	return q, nil
}

type quoteReply struct {
	Message struct {
		Quote wireQuote `json:"quote"`
	} `json:"message"`
}

func decodeQuoteReply(data json.RawMessage) (*Quote, error) {
	var reply quoteReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "malformed quote reply")
	}
	q, err := reply.Message.Quote.toQuote()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "malformed quote payload")
	}
	return q, nil
}
