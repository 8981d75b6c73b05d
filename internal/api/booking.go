/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/reservation"
)

type windowRequest struct {
	Label           string    `json:"label"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	CapacityMinutes int       `json:"capacity_minutes"`
}

// reservationRequest books either explicit minutes or a dose count that is
// costed from the product's minutes per dose.
type reservationRequest struct {
	WindowID         string `json:"window_id"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	ProductID        string `json:"product_id,omitempty"`
	DoseCount        int    `json:"dose_count,omitempty"`
}

func (a *API) handleWindowsList(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date")
			return
		}
	}
	snaps, err := a.ledger.ListWindows(r.Context(), date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *API) handleWindowsCreate(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	win := &models.CapacityWindow{
		Label:           req.Label,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		CapacityMinutes: req.CapacityMinutes,
	}
	if err := a.ledger.CreateWindow(r.Context(), win); err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.logger.Info().Str("window_id", win.ID).Int("capacity_minutes", win.CapacityMinutes).Msg("capacity window created")
	a.bus.Publish(events.EventWindowCreated, events.Payload{
		"window_id":        win.ID,
		"date":             win.Date,
		"capacity_minutes": win.CapacityMinutes,
		"actor":            caller(r),
	})
	writeJSON(w, http.StatusCreated, win)
}

func (a *API) handleWindowsGet(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ledger.Snapshot(r.Context(), chi.URLParam(r, "windowID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleReservationsList(w http.ResponseWriter, r *http.Request) {
	status := models.ReservationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	list, err := a.reservations.List(r.Context(), r.URL.Query().Get("window_id"), status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleReservationsCreate(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WindowID == "" {
		writeError(w, http.StatusBadRequest, "window_id_required")
		return
	}

	minutes := req.EstimatedMinutes
	if minutes == 0 && req.ProductID != "" && req.DoseCount > 0 {
		product, err := a.catalog.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		minutes = planner.EstimateMinutes(product, req.DoseCount)
	}

	created, err := a.reservations.Create(r.Context(), reservation.CreateRequest{
		WindowID:         req.WindowID,
		EstimatedMinutes: minutes,
		CreatedBy:        caller(r),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleReservationsGet(w http.ResponseWriter, r *http.Request) {
	res, err := a.reservations.Get(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReservationsConfirm(w http.ResponseWriter, r *http.Request) {
	res, err := a.reservations.Confirm(r.Context(), chi.URLParam(r, "reservationID"), caller(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReservationsCancel(w http.ResponseWriter, r *http.Request) {
	res, err := a.reservations.Cancel(r.Context(), chi.URLParam(r, "reservationID"), caller(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
