package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/nmoreno-dev/shopstream-checkout/pkg/errors"
)

// RESTProvider reads and clears the cart over the store's cart API.
type RESTProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRESTProvider builds a cart provider against the cart endpoint. The
// bearer token authenticates the shopper.
func NewRESTProvider(baseURL, bearerToken string, timeout time.Duration) (*RESTProvider, error) {
	if baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTProvider{
		baseURL: baseURL,
		token:   bearerToken,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *RESTProvider) Snapshot(ctx context.Context, storeID string) (*Snapshot, error) {
	url := fmt.Sprintf("%s/%s", p.baseURL, storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart request")
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart call failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read cart response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("cart returned status %d", resp.StatusCode))
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "malformed cart response")
	}
	return &snapshot, nil
}

func (p *RESTProvider) Clear(ctx context.Context, storeID, authToken string) error {
	url := fmt.Sprintf("%s/%s", p.baseURL, storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart clear request")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	} else {
		p.authorize(req)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart clear failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("cart clear returned status %d", resp.StatusCode))
	}
	return nil
}

func (p *RESTProvider) authorize(req *http.Request) {
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}
