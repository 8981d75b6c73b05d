/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the scheduling and booking HTTP surface.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/audit"
	"github.com/friendsincode/curie/internal/auth"
	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/dispatch"
	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/export"
	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/orders"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/reservation"
)

// callerHeader identifies the booking client when token auth is disabled.
// Reservation ownership and audit actors are taken from it.
const callerHeader = "X-Curie-Client"

// Bus is the event bus surface the API needs.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Deps carries the services the handlers call.
type Deps struct {
	Catalog      *catalog.Service
	Planner      *planner.Planner
	Ledger       *ledger.Ledger
	Reservations *reservation.Service
	Orders       *orders.Service
	Dispatch     *dispatch.Service
	Export       *export.Service
	Audit        *audit.Service
	Bus          Bus
}

// API exposes HTTP handlers.
type API struct {
	catalog      *catalog.Service
	planner      *planner.Planner
	ledger       *ledger.Ledger
	reservations *reservation.Service
	orders       *orders.Service
	dispatch     *dispatch.Service
	export       *export.Service
	audit        *audit.Service
	bus          Bus
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	return &API{
		catalog:      deps.Catalog,
		planner:      deps.Planner,
		ledger:       deps.Ledger,
		reservations: deps.Reservations,
		orders:       deps.Orders,
		dispatch:     deps.Dispatch,
		export:       deps.Export,
		audit:        deps.Audit,
		bus:          deps.Bus,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/plan", a.handlePlan)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleProductsList)
			r.Post("/", a.handleProductsCreate)
			r.Get("/{productID}", a.handleProductsGet)
		})
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", a.handleCustomersList)
			r.Post("/", a.handleCustomersCreate)
			r.Get("/{customerID}", a.handleCustomersGet)
		})

		r.Route("/windows", func(r chi.Router) {
			r.Get("/", a.handleWindowsList)
			r.Post("/", a.handleWindowsCreate)
			r.Get("/{windowID}", a.handleWindowsGet)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", a.handleReservationsList)
			r.Post("/", a.handleReservationsCreate)
			r.Route("/{reservationID}", func(r chi.Router) {
				r.Get("/", a.handleReservationsGet)
				r.Post("/confirm", a.handleReservationsConfirm)
				r.Post("/cancel", a.handleReservationsCancel)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", a.handleOrdersList)
			r.Post("/", a.handleOrdersCreate)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", a.handleOrdersGet)
				r.Post("/cancel", a.handleOrdersCancel)
				r.Post("/dispatch", a.handleOrdersDispatch)
			})
		})

		r.Route("/dispatches/{dispatchID}", func(r chi.Router) {
			r.Get("/", a.handleDispatchGet)
			r.Post("/arrival", a.handleDispatchArrival)
			r.Get("/activity", a.handleDispatchActivity)
		})

		r.Post("/exports/{date}", a.handleExport)
		r.Get("/audit", a.handleAuditList)
		r.Get("/events/ws", a.handleEvents)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := a.planner.Plan(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// caller prefers the authenticated client over the self-declared header.
func caller(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.ClientID
	}
	return strings.TrimSpace(r.Header.Get(callerHeader))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorDetails(w http.ResponseWriter, status int, code string, details map[string]any) {
	body := map[string]any{"error": code}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}
