// Package identity reads the shopper's credentials and selected delivery
// address from the key-value credential store the app maintains. Checkout
// treats both as read-only preconditions.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nmoreno-dev/shopstream-checkout/pkg/auth"
	"github.com/nmoreno-dev/shopstream-checkout/pkg/config"
)

const (
	keyUser            = "identity:user"
	keySelectedAddress = "identity:selected_address"
)

// ErrNotFound reports a missing credential-store entry.
var ErrNotFound = errors.New("identity: not found")

// User is the current shopper.
type User struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// Address is the currently selected delivery address.
type Address struct {
	AddressID string  `json:"address_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Pincode   string  `json:"pincode"`
}

// Store is the minimal key-value surface of the credential store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Provider reads checkout's identity inputs.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
	SelectedAddress(ctx context.Context) (*Address, error)
}

// StoreProvider reads identity from a Store, verifying the access token
// against the configured JWT parameters so a stale session fails checkout
// before any network call.
type StoreProvider struct {
	store Store
	jwt   config.JWTConfig
}

func NewStoreProvider(store Store, jwtCfg config.JWTConfig) (*StoreProvider, error) {
	if store == nil {
		return nil, errors.New("credential store required")
	}
	return &StoreProvider{store: store, jwt: jwtCfg}, nil
}

func (p *StoreProvider) CurrentUser(ctx context.Context) (*User, error) {
	raw, err := p.store.Get(ctx, keyUser)
	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	if user.UserID == "" || user.AccessToken == "" {
		return nil, ErrNotFound
	}
	if p.jwt.Secret != "" {
		if _, err := auth.ParseAccessToken(p.jwt, user.AccessToken); err != nil {
			return nil, fmt.Errorf("stale session: %w", err)
		}
	}
	return &user, nil
}

func (p *StoreProvider) SelectedAddress(ctx context.Context) (*Address, error) {
	raw, err := p.store.Get(ctx, keySelectedAddress)
	if err != nil {
		return nil, fmt.Errorf("reading selected address: %w", err)
	}
	var addr Address
	if err := json.Unmarshal([]byte(raw), &addr); err != nil {
		return nil, fmt.Errorf("decoding selected address: %w", err)
	}
	if addr.AddressID == "" {
		return nil, ErrNotFound
	}
	return &addr, nil
}

// SaveUser writes the user record; used by the app shell after login.
func SaveUser(ctx context.Context, store Store, user User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	return store.Set(ctx, keyUser, string(payload), 0)
}

// SaveSelectedAddress writes the selected delivery address.
func SaveSelectedAddress(ctx context.Context, store Store, addr Address) error {
	payload, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encoding selected address: %w", err)
	}
	return store.Set(ctx, keySelectedAddress, string(payload), 0)
}
