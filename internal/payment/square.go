package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/nmoreno-dev/shopstream-checkout/pkg/config"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var (
	errAccessTokenRequired = errors.New("gateway access token is required")
	errInvalidGatewayEnv   = fmt.Errorf("gateway environment must be %q or %q", sandboxEnv, productionEnv)
)

// SquareSDK implements the SDK contract against Square's payments API.
// SourceID is the tokenized payment source produced by the mobile payment
// sheet; this adapter only moves money.
type SquareSDK struct {
	sdk        *sqclient.Client
	locationID string
	sourceID   string
	logg       *logger.Logger
}

// SquareOptions configures the production SDK adapter.
type SquareOptions struct {
	Config     config.GatewayConfig
	LocationID string
	SourceID   string
	Logger     *logger.Logger
}

// NewSquareSDK validates the credentials and builds the adapter.
func NewSquareSDK(opts SquareOptions) (*SquareSDK, error) {
	accessToken := strings.TrimSpace(opts.Config.Key)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	env := opts.Config.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidGatewayEnv
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)
	return &SquareSDK{
		sdk:        sdk,
		locationID: opts.LocationID,
		sourceID:   opts.SourceID,
		logg:       opts.Logger,
	}, nil
}

// Pay creates a Square payment for the checkout and returns the payment id
// as the payment reference.
func (s *SquareSDK) Pay(ctx context.Context, checkout Checkout) (string, error) {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: fmt.Sprintf("checkout-%s-%s", checkout.OrderID, uuid.NewString()),
		SourceID:       s.sourceID,
		ReferenceID:    ptrString(checkout.OrderID),
		LocationID:     ptrString(s.locationID),
	}
	if checkout.Amount > 0 {
		currency := sq.Currency(strings.ToUpper(checkout.Currency))
		amount := checkout.Amount
		req.AmountMoney = &sq.Money{
			Amount:   &amount,
			Currency: &currency,
		}
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id": checkout.OrderID,
			"amount_minor":     checkout.Amount,
		}), "square create_payment request")
	}

	resp, err := s.sdk.Payments.Create(ctx, req)
	if err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "square create_payment failed", err)
		}
		return "", fmt.Errorf("square create payment: %w", err)
	}

	payment := resp.GetPayment()
	reference := stringValue(payment.GetID())
	if reference == "" {
		return "", errors.New("square payment missing id")
	}
	return reference, nil
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
