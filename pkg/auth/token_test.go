package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/nmoreno-dev/shopstream-checkout/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "shopstream"}

func TestMintAndParseRoundTrip(t *testing.T) {
	t.Parallel()

	signed, err := MintAccessToken(testJWT, time.Now(), "user-42", "+15550100", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseAccessToken(testJWT, signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}
	if claims.Phone != "+15550100" {
		t.Fatalf("unexpected phone %q", claims.Phone)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	signed, err := MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), "user-42", "", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseAccessToken(testJWT, signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	other := config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"}
	signed, err := MintAccessToken(other, time.Now(), "user-42", "", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseAccessToken(testJWT, signed); err == nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}

func TestParseRejectsMissingUserID(t *testing.T) {
	t.Parallel()

	signed, err := MintAccessToken(testJWT, time.Now(), "x", "", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Tamper check only: a structurally valid token minted with a blank
	// user id is impossible via MintAccessToken, parse enforces it anyway.
	if _, err := MintAccessToken(testJWT, time.Now(), "  ", "", time.Hour); err == nil {
		t.Fatal("expected blank user id to be rejected at mint")
	}
	if !strings.Contains(signed, ".") {
		t.Fatal("expected a JWT-shaped token")
	}
}
