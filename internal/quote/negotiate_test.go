package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// startGateway runs a websocket endpoint that, per connection, reads one
// request frame and replies with each of the given frames in order.
func startGateway(t *testing.T, replies ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		// Hold the session open so the client decides when to close.
		conn.ReadMessage() //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newNegotiator(t *testing.T, url string) *ChannelNegotiator {
	t.Helper()
	channel, err := session.NewChannel(session.Options{
		URL:            url,
		ExpectedAction: ReplyAction(),
		ReplyTimeout:   2 * time.Second,
		Dial:           session.WebsocketDial(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	n, err := NewChannelNegotiator(channel)
	if err != nil {
		t.Fatalf("NewChannelNegotiator: %v", err)
	}
	return n
}

func validRequest() Request {
	return Request{
		CartID:    "cart-7",
		AddressID: "addr-1",
		City:      "Pune",
		State:     "MH",
		UserID:    "user-42",
	}
}

func TestNegotiateParsesQuoteSkippingUnrelatedFrames(t *testing.T) {
	t.Parallel()

	url := startGateway(t,
		`{"data":{"context":{"action":"on_track"},"noise":true}}`,
		`{"data":{"context":{"action":"on_select"},"message":{"quote":{
			"id":"quote-1",
			"items":[{"catalog_id":"A","quantity":2,"unit_price":"90","available_quantity":5,"max_quantity":10}],
			"breakup":[
				{"type":"item","ref_id":"A","quantity":2,"unit_price":"90"},
				{"type":"delivery","amount":"40"},
				{"type":"surge","amount":"99"}
			],
			"fulfillments":[{"id":"f1","category":"Standard Delivery","estimated_duration":"45m","serviceable":true}],
			"grand_total":"220"
		}}}}`,
	)

	q, err := newNegotiator(t, url).Negotiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	if q.ID != "quote-1" {
		t.Fatalf("unexpected quote id %q", q.ID)
	}
	if len(q.Lines) != 1 || q.Lines[0].CatalogID != "A" {
		t.Fatalf("unexpected lines %+v", q.Lines)
	}
	if !q.Lines[0].UnitPrice.Equal(dec("90")) {
		t.Fatalf("unit price = %s, want 90", q.Lines[0].UnitPrice)
	}
	// The unknown "surge" bucket is dropped, not fatal.
	if len(q.Breakup) != 2 {
		t.Fatalf("expected 2 known breakup entries, got %d", len(q.Breakup))
	}
	if q.GrandTotal == nil || !q.GrandTotal.Equal(dec("220")) {
		t.Fatalf("unexpected grand total %v", q.GrandTotal)
	}
	if _, ok := q.Fulfillment("f1"); !ok {
		t.Fatal("expected fulfillment f1")
	}
}

func TestNegotiateEmbeddedErrorSurfacesAsNegotiationError(t *testing.T) {
	t.Parallel()

	url := startGateway(t,
		`{"data":{"context":{"action":"on_select"}},"error":{"code":"30009","message":"store closed"}}`,
	)

	_, err := newNegotiator(t, url).Negotiate(context.Background(), validRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNegotiation {
		t.Fatalf("expected negotiation code, got %v", err)
	}
	var remote *session.RemoteError
	if !errors.As(err, &remote) || remote.Code != "30009" {
		t.Fatalf("expected remote error 30009 in chain, got %v", err)
	}
}

func TestNegotiateValidatesRequestBeforeDialing(t *testing.T) {
	t.Parallel()

	// Endpoint that would fail the test if dialed.
	n := newNegotiator(t, "ws://127.0.0.1:1/never")

	req := validRequest()
	req.AddressID = ""
	_, err := n.Negotiate(context.Background(), req)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestNegotiateMissingQuoteIDFails(t *testing.T) {
	t.Parallel()

	url := startGateway(t,
		`{"data":{"context":{"action":"on_select"},"message":{"quote":{"items":[]}}}}`,
	)

	_, err := newNegotiator(t, url).Negotiate(context.Background(), validRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNegotiation {
		t.Fatalf("expected negotiation code for id-less quote, got %v", err)
	}
}

func TestRESTNegotiatorParsesQuote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CartID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quote":{"id":"quote-9","items":[],"breakup":[{"type":"delivery","fulfillment_id":"f1","amount":"25"}],"fulfillments":[{"id":"f1","category":"Standard Delivery","serviceable":true}]}}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	n, err := NewRESTNegotiator(srv.URL, "tok-1", time.Second)
	if err != nil {
		t.Fatalf("NewRESTNegotiator: %v", err)
	}
	q, err := n.Negotiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if q.ID != "quote-9" {
		t.Fatalf("unexpected quote id %q", q.ID)
	}
	if !ForFulfillment(q, "f1").Delivery.Equal(dec("25")) {
		t.Fatal("expected per-fulfillment delivery of 25")
	}
}

func TestRESTNegotiatorNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	n, err := NewRESTNegotiator(srv.URL, "", time.Second)
	if err != nil {
		t.Fatalf("NewRESTNegotiator: %v", err)
	}
	if _, err := n.Negotiate(context.Background(), validRequest()); pkgerrors.CodeOf(err) != pkgerrors.CodeNegotiation {
		t.Fatalf("expected negotiation code, got %v", err)
	}
}
