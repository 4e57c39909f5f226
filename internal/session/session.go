// Package session implements the duplex exchange discipline shared by the
// negotiation, initiation and confirmation channels: one connect, one request
// frame, one expected reply, one close. Frames that do not carry the expected
// action tag are ignored; an embedded error frame is terminal.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
)

// Envelope is the request frame sent to a seller-gateway endpoint.
type Envelope struct {
	Context Context `json:"context"`
	Message any     `json:"message"`
}

// Context tags a frame with its protocol action and correlation ids.
type Context struct {
	Action        string `json:"action"`
	TransactionID string `json:"transaction_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
}

// NewContext builds a frame context with fresh correlation ids.
func NewContext(action, transactionID string) Context {
	return Context{
		Action:        action,
		TransactionID: transactionID,
		MessageID:     uuid.NewString(),
	}
}

// RemoteError is an error object embedded in a reply frame. Its presence is
// terminal for the exchange even when the frame also carries the expected
// action tag.
type RemoteError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// ErrClosedBeforeReply reports a clean remote close that arrived before any
// reply carrying the expected action.
var ErrClosedBeforeReply = errors.New("session closed before reply")

type replyFrame struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RemoteError    `json:"error,omitempty"`
}

type dataContext struct {
	Context Context `json:"context"`
}

// Conn is the subset of *websocket.Conn the channel needs. Tests substitute a
// scripted connection.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a connection to the given endpoint.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDial returns a DialFunc backed by gorilla/websocket with the given
// handshake timeout.
func WebsocketDial(handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dialing %s (status %d): %w", url, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		return conn, nil
	}
}

// Options configures a Channel for one endpoint.
type Options struct {
	URL            string
	ExpectedAction string
	ReplyTimeout   time.Duration
	Dial           DialFunc
	Logger         *logger.Logger
}

// Channel performs single-exchange duplex sessions against one endpoint.
type Channel struct {
	url            string
	expectedAction string
	replyTimeout   time.Duration
	dial           DialFunc
	logg           *logger.Logger
}

// NewChannel validates the options and builds a channel.
func NewChannel(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("endpoint url required")
	}
	if opts.ExpectedAction == "" {
		return nil, errors.New("expected action required")
	}
	if opts.Dial == nil {
		return nil, errors.New("dial func required")
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	return &Channel{
		url:            opts.URL,
		expectedAction: opts.ExpectedAction,
		replyTimeout:   opts.ReplyTimeout,
		dial:           opts.Dial,
		logg:           opts.Logger,
	}, nil
}

// Exchange opens the session, sends the envelope and waits for one reply
// tagged with the expected action. The connection is closed exactly once on
// every path. The returned payload is the raw data frame.
func (c *Channel) Exchange(ctx context.Context, env Envelope) (json.RawMessage, error) {
	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open session")
	}

	var closeOnce sync.Once
	var closeErr error
	closeSession := func() {
		closeOnce.Do(func() {
			closeErr = conn.Close()
		})
	}
	defer closeSession()

	// Unblock the read loop when the caller cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			closeSession()
		case <-watchDone:
		}
	}()

	if err := conn.WriteJSON(env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send request frame")
	}

	deadline := time.Now().Add(c.replyTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set reply deadline")
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeCancelled, ctx.Err(), "session cancelled")
			}
			if isTimeout(err) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "reply wait expired")
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrClosedBeforeReply, "session closed")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Append(err, closeErr), "read reply frame")
		}

		var frame replyFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logIgnored(ctx, "unparseable frame ignored")
			continue
		}
		if frame.Error != nil {
			return nil, frame.Error
		}
		if len(frame.Data) == 0 {
			c.logIgnored(ctx, "frame without data ignored")
			continue
		}

		var dc dataContext
		if err := json.Unmarshal(frame.Data, &dc); err != nil || dc.Context.Action != c.expectedAction {
			c.logIgnored(ctx, "frame with unrelated action ignored")
			continue
		}

		return frame.Data, nil
	}
}

func (c *Channel) logIgnored(ctx context.Context, msg string) {
	if c.logg != nil {
		c.logg.Debug(ctx, msg)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
