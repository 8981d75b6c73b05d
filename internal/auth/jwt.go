/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth identifies booking clients by signed bearer tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims names the booking client. ClientID becomes the reservation owner and
// audit actor.
type Claims struct {
	ClientID string   `json:"cid"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Issue creates a signed HS256 token.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if claims.ClientID == "" {
		return "", errors.New("client id required")
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   claims.ClientID,
		Issuer:    "curie",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ClientID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
