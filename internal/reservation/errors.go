/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reservation

import (
	"errors"
	"fmt"

	"github.com/friendsincode/curie/internal/models"
)

var (
	// ErrNotFound indicates the reservation does not exist.
	ErrNotFound = errors.New("reservation not found")

	// ErrExpired indicates the hold lapsed before it was confirmed. The caller
	// should rebook.
	ErrExpired = errors.New("reservation expired, please rebook")

	// ErrInvalidState indicates the requested transition is not allowed from
	// the reservation's current status.
	ErrInvalidState = errors.New("invalid reservation state")

	// ErrAlreadyLinked indicates a downstream entity was already recorded.
	ErrAlreadyLinked = errors.New("reservation already linked to another entity")
)

// TransitionError describes a rejected state change. It matches
// ErrInvalidState with errors.Is.
type TransitionError struct {
	ReservationID string
	From          models.ReservationStatus
	To            models.ReservationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}
