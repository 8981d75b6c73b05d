/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{ClientID: "clinic-a", Roles: []string{"booking"}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ClientID != "clinic-a" {
		t.Fatalf("expected client id clinic-a, got %q", claims.ClientID)
	}
	if claims.Subject != "clinic-a" {
		t.Fatalf("expected subject clinic-a, got %q", claims.Subject)
	}
}

func TestIssue_RequiresClientID(t *testing.T) {
	if _, err := Issue([]byte("s"), Claims{}, time.Hour); err == nil {
		t.Fatalf("expected error for empty client id")
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		ClientID: "clinic-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "clinic-a",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{ClientID: "clinic-a"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParse_RejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("one"), Claims{ClientID: "clinic-a"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse([]byte("two"), token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}
