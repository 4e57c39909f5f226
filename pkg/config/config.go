package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App       AppConfig
	Endpoints EndpointsConfig
	Channels  ChannelsConfig
	Gateway   GatewayConfig
	Payment   PaymentConfig
	Redis     RedisConfig
	JWT       JWTConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Endpoints.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPSTREAM_APP_ENV" default:"dev"`
	Port         string `envconfig:"SHOPSTREAM_APP_PORT" default:"8087"`
	LogLevel     string `envconfig:"SHOPSTREAM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPSTREAM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// EndpointsConfig holds the seller-gateway and store endpoints. The three
// duplex sessions are distinct URLs on purpose: the gateway routes
// select/init/confirm separately. CartURL points at the store's cart API.
type EndpointsConfig struct {
	NegotiateURL    string `envconfig:"SHOPSTREAM_NEGOTIATE_URL"`
	InitiateURL     string `envconfig:"SHOPSTREAM_INITIATE_URL"`
	ConfirmURL      string `envconfig:"SHOPSTREAM_CONFIRM_URL"`
	PaymentOrderURL string `envconfig:"SHOPSTREAM_PAYMENT_ORDER_URL"`
	SelectCartURL   string `envconfig:"SHOPSTREAM_SELECT_CART_URL"`
	CartURL         string `envconfig:"SHOPSTREAM_CART_URL"`
}

func (e EndpointsConfig) validate() error {
	missing := []string{}
	if e.NegotiateURL == "" && e.SelectCartURL == "" {
		missing = append(missing, "SHOPSTREAM_NEGOTIATE_URL or SHOPSTREAM_SELECT_CART_URL")
	}
	if e.InitiateURL == "" {
		missing = append(missing, "SHOPSTREAM_INITIATE_URL")
	}
	if e.ConfirmURL == "" {
		missing = append(missing, "SHOPSTREAM_CONFIRM_URL")
	}
	if e.PaymentOrderURL == "" {
		missing = append(missing, "SHOPSTREAM_PAYMENT_ORDER_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s are required", strings.Join(missing, ", "))
	}
	return nil
}

// ChannelsConfig bounds the duplex sessions. Confirmation always had a
// connection timeout; negotiation and initiation adopt the same bound
// defensively.
type ChannelsConfig struct {
	ConnectTimeout time.Duration `envconfig:"SHOPSTREAM_CHANNEL_CONNECT_TIMEOUT" default:"10s"`
	ReplyTimeout   time.Duration `envconfig:"SHOPSTREAM_CHANNEL_REPLY_TIMEOUT" default:"30s"`
}

type GatewayConfig struct {
	Key      string `envconfig:"SHOPSTREAM_GATEWAY_KEY"`
	Env      string `envconfig:"SHOPSTREAM_GATEWAY_ENV" default:"sandbox"`
	Currency string `envconfig:"SHOPSTREAM_GATEWAY_CURRENCY" default:"INR"`
	Theme    string `envconfig:"SHOPSTREAM_GATEWAY_THEME" default:"#194074"`
}

// Environment returns the normalized gateway environment (sandbox/production).
func (g GatewayConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentConfig struct {
	OrderCreateTimeout time.Duration `envconfig:"SHOPSTREAM_PAYMENT_ORDER_TIMEOUT" default:"10s"`
	MaxRetries         int           `envconfig:"SHOPSTREAM_PAYMENT_MAX_RETRIES" default:"2"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPSTREAM_REDIS_URL"`
	Address      string        `envconfig:"SHOPSTREAM_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPSTREAM_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPSTREAM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPSTREAM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPSTREAM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPSTREAM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPSTREAM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPSTREAM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"SHOPSTREAM_JWT_SECRET"`
	Issuer string `envconfig:"SHOPSTREAM_JWT_ISSUER"`
}
