/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"math"
	"time"
)

// ShelfLifeExceededError rejects a schedule whose dose would be used after it
// expires. OverMinutes is how far past shelf life the usage instant falls.
type ShelfLifeExceededError struct {
	OverMinutes float64
	Reason      string
}

func (e *ShelfLifeExceededError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("shelf life exceeded: %s", e.Reason)
	}
	return fmt.Sprintf("shelf life exceeded by %.1f minutes", e.OverMinutes)
}

// WithinShelfLife reports whether delivery falls no later than shelfLife after
// production.
func WithinShelfLife(production, delivery time.Time, shelfLife time.Duration) bool {
	return delivery.Sub(production) <= shelfLife
}

// CheckShelfLife returns a *ShelfLifeExceededError if delivery is past shelf life.
func CheckShelfLife(production, delivery time.Time, shelfLife time.Duration) error {
	if shelfLife <= 0 {
		return fmt.Errorf("%w: shelf life must be positive, got %s", ErrInvalidParameter, shelfLife)
	}
	if WithinShelfLife(production, delivery, shelfLife) {
		return nil
	}
	over := delivery.Sub(production) - shelfLife
	return &ShelfLifeExceededError{OverMinutes: math.Ceil(over.Minutes()*10) / 10}
}

// Margin is the remaining time between delivery and expiry. Negative when the
// schedule is infeasible.
func Margin(production, delivery time.Time, shelfLife time.Duration) time.Duration {
	return shelfLife - delivery.Sub(production)
}
