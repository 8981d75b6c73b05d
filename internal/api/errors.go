/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/decay"
	"github.com/friendsincode/curie/internal/dispatch"
	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/orders"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/reservation"
	"github.com/friendsincode/curie/internal/schedule"
	"github.com/friendsincode/curie/internal/storage"
)

// writeServiceError maps domain errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var shelf *schedule.ShelfLifeExceededError
	var rejected *ledger.CapacityRejectedError

	switch {
	case errors.As(err, &shelf):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "shelf_life_exceeded", map[string]any{
			"over_minutes": shelf.OverMinutes,
			"message":      shelf.Error(),
		})
	case errors.Is(err, planner.ErrSynthesisInPast):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "synthesis_in_past", map[string]any{
			"message": err.Error(),
		})
	case errors.As(err, &rejected):
		if rejected.Cause != nil {
			a.logger.Warn().Err(rejected.Cause).Str("window_id", rejected.WindowID).Msg("admission failed closed")
		}
		writeErrorDetails(w, http.StatusConflict, "capacity_rejected", map[string]any{
			"window_id": rejected.WindowID,
			"requested": rejected.Requested,
			"available": rejected.Available,
			"shortfall": rejected.Shortfall,
		})
	case errors.Is(err, reservation.ErrExpired):
		writeErrorDetails(w, http.StatusGone, "reservation_expired", map[string]any{
			"message": reservation.ErrExpired.Error(),
		})
	case errors.Is(err, reservation.ErrInvalidState),
		errors.Is(err, reservation.ErrAlreadyLinked),
		errors.Is(err, orders.ErrInvalidState),
		errors.Is(err, dispatch.ErrAlreadyArrived):
		writeErrorDetails(w, http.StatusConflict, "invalid_state", map[string]any{
			"message": err.Error(),
		})
	case errors.Is(err, reservation.ErrNotFound),
		errors.Is(err, orders.ErrNotFound),
		errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrCustomerNotFound),
		errors.Is(err, ledger.ErrWindowNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeErrorDetails(w, http.StatusNotFound, "not_found", map[string]any{
			"message": err.Error(),
		})
	case errors.Is(err, schedule.ErrInvalidParameter),
		errors.Is(err, decay.ErrInvalidParameter),
		errors.Is(err, ledger.ErrInvalidWindow),
		errors.Is(err, ledger.ErrInvalidMinutes),
		errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, catalog.ErrInvalidCustomer),
		errors.Is(err, dispatch.ErrInvalidParameter):
		writeErrorDetails(w, http.StatusBadRequest, "invalid_parameter", map[string]any{
			"message": err.Error(),
		})
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
