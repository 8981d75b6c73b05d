/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/curie/internal/dispatch"
	"github.com/friendsincode/curie/internal/orders"
	"github.com/friendsincode/curie/internal/planner"
)

type orderRequest struct {
	planner.Request
	ReservationID string `json:"reservation_id,omitempty"`
}

type arrivalRequest struct {
	ArrivedAt time.Time `json:"arrived_at"`
}

func (a *API) handleOrdersList(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, "date_required")
		return
	}
	list, err := a.orders.ListByDate(r.Context(), date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleOrdersCreate(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	placed, err := a.orders.PlaceOrder(r.Context(), orders.PlaceRequest{
		Request:       req.Request,
		ReservationID: req.ReservationID,
		Caller:        caller(r),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (a *API) handleOrdersGet(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleOrdersCancel(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), caller(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleOrdersDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Departure
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := a.dispatch.RecordDeparture(r.Context(), chi.URLParam(r, "orderID"), req, caller(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleDispatchGet(w http.ResponseWriter, r *http.Request) {
	d, err := a.dispatch.Get(r.Context(), chi.URLParam(r, "dispatchID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleDispatchArrival(w http.ResponseWriter, r *http.Request) {
	var req arrivalRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	d, err := a.dispatch.RecordArrival(r.Context(), chi.URLParam(r, "dispatchID"), req.ArrivedAt, caller(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleDispatchActivity(w http.ResponseWriter, r *http.Request) {
	readout, err := a.dispatch.Activity(r.Context(), chi.URLParam(r, "dispatchID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readout)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := a.export.ExportDay(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
