package store

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("secret-a", time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}

	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q", ok, userID)
	}
}

func TestJWTSessionStoreRejectsWrongSecret(t *testing.T) {
	signing := NewJWTSessionStore("secret-a", time.Minute)
	verify := NewJWTSessionStore("secret-b", time.Minute)

	token, err := signing.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsExpiredToken(t *testing.T) {
	s := NewJWTSessionStore("secret-a", time.Minute)
	s.leeway = 0

	now := time.Now().UTC().Add(-10 * time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    jwtIssuer,
		Audience:  jwt.ClaimStrings{jwtAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        "jti-expired",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestJWTSessionStoreRejectsWrongAudience(t *testing.T) {
	s := NewJWTSessionStore("secret-a", time.Minute)

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    jwtIssuer,
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        "jti-aud",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsMissingExpiry(t *testing.T) {
	s := NewJWTSessionStore("secret-a", time.Minute)

	claims := jwt.RegisteredClaims{
		Subject:  "user-1",
		Issuer:   jwtIssuer,
		Audience: jwt.ClaimStrings{jwtAudience},
		IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		ID:       "jti-noexp",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected token without expiry to fail")
	}
}
