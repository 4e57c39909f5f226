package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nmoreno-dev/shopstream-checkout/api/routes"
	"github.com/nmoreno-dev/shopstream-checkout/internal/cart"
	"github.com/nmoreno-dev/shopstream-checkout/internal/checkout"
	"github.com/nmoreno-dev/shopstream-checkout/internal/confirm"
	"github.com/nmoreno-dev/shopstream-checkout/internal/identity"
	"github.com/nmoreno-dev/shopstream-checkout/internal/initiation"
	"github.com/nmoreno-dev/shopstream-checkout/internal/payment"
	"github.com/nmoreno-dev/shopstream-checkout/internal/quote"
	"github.com/nmoreno-dev/shopstream-checkout/internal/session"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/config"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/env"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/logger"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "checkout"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "checkout",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	store, closeStore, err := newStore(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap credential store", err)
		os.Exit(1)
	}
	defer closeStore()

	provider, err := identity.NewStoreProvider(store, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create identity provider", err)
		os.Exit(1)
	}

	// The shopper token authenticates the cart and select-cart calls. A
	// missing session is not fatal here; Start surfaces it as a precondition.
	token := ""
	if user, err := provider.CurrentUser(context.Background()); err == nil {
		token = user.AccessToken
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	orch, err := buildOrchestrator(cfg, logg, provider, token, checkoutMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build orchestrator", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting checkout driver")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(logg, orch, registry),
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "checkout driver stopped unexpectedly", err)
		os.Exit(1)
	}
}

// newStore picks redis when configured, an in-process store otherwise.
func newStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (identity.Store, func(), error) {
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		logg.Warn(ctx, "no redis configured, using in-memory credential store")
		return identity.NewMemoryStore(), func() {}, nil
	}
	redisStore, err := identity.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}, nil
}

func buildOrchestrator(cfg *config.Config, logg *logger.Logger, provider identity.Provider, token string, checkoutMetrics *metrics.CheckoutMetrics) (*checkout.Orchestrator, error) {
	dial := session.WebsocketDial(cfg.Channels.ConnectTimeout)

	negotiator, err := newNegotiator(cfg, logg, dial, token)
	if err != nil {
		return nil, err
	}

	initChannel, err := session.NewChannel(session.Options{
		URL:            cfg.Endpoints.InitiateURL,
		ExpectedAction: initiation.ReplyAction(),
		ReplyTimeout:   cfg.Channels.ReplyTimeout,
		Dial:           dial,
		Logger:         logg,
	})
	if err != nil {
		return nil, err
	}
	initiator, err := initiation.NewChannelInitiator(initChannel)
	if err != nil {
		return nil, err
	}

	confirmChannel, err := session.NewChannel(session.Options{
		URL:            cfg.Endpoints.ConfirmURL,
		ExpectedAction: confirm.ReplyAction(),
		ReplyTimeout:   cfg.Channels.ReplyTimeout,
		Dial:           dial,
		Logger:         logg,
	})
	if err != nil {
		return nil, err
	}
	confirmer, err := confirm.NewChannelConfirmer(confirmChannel)
	if err != nil {
		return nil, err
	}

	sdk, err := payment.NewSquareSDK(payment.SquareOptions{
		Config:     cfg.Gateway,
		LocationID: env.Get("SHOPSTREAM_GATEWAY_LOCATION_ID", ""),
		SourceID:   env.Get("SHOPSTREAM_GATEWAY_SOURCE_ID", ""),
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	bridge, err := payment.NewBridge(payment.Options{
		OrderURL:  cfg.Endpoints.PaymentOrderURL,
		AuthToken: token,
		Currency:  cfg.Gateway.Currency,
		Theme:     cfg.Gateway.Theme,
		Timeout:   cfg.Payment.OrderCreateTimeout,
		SDK:       sdk,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	cartProvider, err := cart.NewRESTProvider(cfg.Endpoints.CartURL, token, cfg.Payment.OrderCreateTimeout)
	if err != nil {
		return nil, err
	}

	return checkout.New(checkout.Deps{
		Cart:              cartProvider,
		Identity:          provider,
		Negotiator:        negotiator,
		Initiator:         initiator,
		Payments:          bridge,
		Confirmer:         confirmer,
		Logger:            logg,
		Metrics:           checkoutMetrics,
		MaxPaymentRetries: cfg.Payment.MaxRetries,
	})
}

// newNegotiator prefers the duplex select session, falling back to the
// single-call select-cart API when only that endpoint is configured.
func newNegotiator(cfg *config.Config, logg *logger.Logger, dial session.DialFunc, token string) (quote.Negotiator, error) {
	if cfg.Endpoints.NegotiateURL != "" {
		channel, err := session.NewChannel(session.Options{
			URL:            cfg.Endpoints.NegotiateURL,
			ExpectedAction: quote.ReplyAction(),
			ReplyTimeout:   cfg.Channels.ReplyTimeout,
			Dial:           dial,
			Logger:         logg,
		})
		if err != nil {
			return nil, err
		}
		return quote.NewChannelNegotiator(channel)
	}
	return quote.NewRESTNegotiator(cfg.Endpoints.SelectCartURL, token, cfg.Channels.ReplyTimeout)
}
