/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/v1/windows/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/windows/{id}", "418"))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/windows/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/windows/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests recorded under the route pattern, got %v", after-before)
	}
}

func TestSamplerFor(t *testing.T) {
	for _, rate := range []float64{-1, 0, 0.25, 1, 2} {
		if samplerFor(rate) == nil {
			t.Fatalf("nil sampler for rate %v", rate)
		}
	}
}
