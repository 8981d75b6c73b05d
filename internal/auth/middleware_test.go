/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func echoClient(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(claims.ClientID))
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(echoClient))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/windows", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "anonymous" {
		t.Fatalf("got %d %q, want 200 anonymous", rr.Code, rr.Body.String())
	}
}

func TestMiddleware_RequiresToken(t *testing.T) {
	h := Middleware([]byte("secret"), "/healthz")(http.HandlerFunc(echoClient))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/windows", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate=%q, want Bearer", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("public path status=%d, want 200", rr.Code)
	}
}

func TestMiddleware_InjectsClaims(t *testing.T) {
	secret := []byte("secret")
	token, err := Issue(secret, Claims{ClientID: "clinic-a"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	h := Middleware(secret)(http.HandlerFunc(echoClient))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/windows", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "clinic-a" {
		t.Fatalf("got %d %q, want 200 clinic-a", rr.Code, rr.Body.String())
	}
}

func TestMiddleware_WebSocketQueryToken(t *testing.T) {
	secret := []byte("secret")
	token, err := Issue(secret, Claims{ClientID: "board"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	h := Middleware(secret)(http.HandlerFunc(echoClient))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/ws?token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Body.String() != "board" {
		t.Fatalf("body=%q, want board", rr.Body.String())
	}

	// Query tokens are ignored outside the upgrade path.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/windows?token="+token, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rr.Code)
	}
}
