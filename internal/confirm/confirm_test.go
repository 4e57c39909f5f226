package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

type stubErr struct{ timeout bool }

func (e stubErr) Error() string { return "stub read error" }
func (e stubErr) Timeout() bool { return e.timeout }

type fakeConn struct {
	frames   []string
	finalErr error
	closes   int
}

func (c *fakeConn) WriteJSON(any) error { return nil }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		if c.finalErr != nil {
			return 0, nil, c.finalErr
		}
		return 0, nil, errors.New("no more frames")
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, []byte(frame), nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error                    { c.closes++; return nil }

func confirmerOver(t *testing.T, conn session.Conn) *ChannelConfirmer {
	t.Helper()
	channel, err := session.NewChannel(session.Options{
		URL:            "wss://gw.test/confirm",
		ExpectedAction: ReplyAction(),
		ReplyTimeout:   time.Second,
		Dial: func(context.Context, string) (session.Conn, error) {
			return conn, nil
		},
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	confirmer, err := NewChannelConfirmer(channel)
	if err != nil {
		t.Fatalf("NewChannelConfirmer: %v", err)
	}
	return confirmer
}

func validRequest() Request {
	return Request{
		InitiationID:     "init-9",
		UserID:           "user-42",
		PaymentReference: "pay_ref_1",
		GatewayOrderID:   "gw_order_1",
	}
}

func TestConfirmReturnsOrderID(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{frames: []string{
		`{"data":{"context":{"action":"on_confirm"},"message":{"order":{"id":"order-77"}}}}`,
	}}

	orderID, err := confirmerOver(t, conn).Confirm(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if orderID != "order-77" {
		t.Fatalf("unexpected order id %q", orderID)
	}
	if conn.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", conn.closes)
	}
}

func TestConfirmSilenceForFullWindowIsTimeout(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{finalErr: stubErr{timeout: true}}

	_, err := confirmerOver(t, conn).Confirm(context.Background(), validRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConfirmation {
		t.Fatalf("expected confirmation code, got %v", err)
	}
	if !pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).FundsSafe {
		t.Fatal("confirmation timeout must surface as funds-safe")
	}
	// The timeout cause stays in the chain for diagnostics.
	var timeoutCause interface{ Timeout() bool }
	if !errors.As(err, &timeoutCause) || !timeoutCause.Timeout() {
		t.Fatalf("expected timeout cause in chain, got %v", err)
	}
}

func TestConfirmCleanCloseBeforeReplyIsError(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{finalErr: &websocket.CloseError{Code: websocket.CloseNormalClosure}}

	_, err := confirmerOver(t, conn).Confirm(context.Background(), validRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConfirmation {
		t.Fatalf("expected confirmation code, got %v", err)
	}
	if !errors.Is(err, session.ErrClosedBeforeReply) {
		t.Fatalf("expected unexpected-closure cause, got %v", err)
	}
}

func TestConfirmValidatesInput(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.PaymentReference = ""
	_, err := confirmerOver(t, &fakeConn{}).Confirm(context.Background(), req)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}
