package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

// RESTNegotiator is the newer single-call variant of the negotiation
// contract: one HTTPS POST returning the quote with per-fulfillment breakups.
// It is a drop-in alternative to ChannelNegotiator and nothing else; the
// initiation and confirmation stages stay on duplex sessions.
type RESTNegotiator struct {
	url      string
	token    string
	client   *http.Client
	validate *validator.Validate
}

// NewRESTNegotiator builds the REST variant against the select-cart endpoint.
func NewRESTNegotiator(url, bearerToken string, timeout time.Duration) (*RESTNegotiator, error) {
	if url == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "select-cart url required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTNegotiator{
		url:      url,
		token:    bearerToken,
		client:   &http.Client{Timeout: timeout},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (n *RESTNegotiator) Negotiate(ctx context.Context, req Request) (*Quote, error) {
	if err := n.validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid negotiation request")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode select-cart request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build select-cart request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "select-cart call failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "read select-cart response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pkgerrors.New(pkgerrors.CodeNegotiation,
			fmt.Sprintf("select-cart returned status %d", resp.StatusCode))
	}

	var wire struct {
		Quote wireQuote `json:"quote"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "malformed select-cart response")
	}
	q, err := wire.Quote.toQuote()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNegotiation, err, "malformed quote payload")
	}
	return q, nil
}
