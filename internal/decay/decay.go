/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decay implements first-order radioactive decay arithmetic.
package decay

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidParameter is returned for non-positive half-lives, activities or
	// negative overage.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrProductionAfterTarget is returned when the production instant lies after
	// the target instant. It wraps ErrInvalidParameter.
	ErrProductionAfterTarget = fmt.Errorf("%w: production time after target time", ErrInvalidParameter)
)

// ActivityAt returns the activity at t1 of a sample holding a0 at t0.
// t1 may be before t0, in which case the result is larger than a0.
func ActivityAt(a0 float64, t0, t1 time.Time, halfLife time.Duration) (float64, error) {
	if halfLife <= 0 {
		return 0, fmt.Errorf("%w: half-life must be positive, got %s", ErrInvalidParameter, halfLife)
	}
	elapsed := t1.Sub(t0).Minutes()
	return a0 * math.Pow(2, -elapsed/halfLife.Minutes()), nil
}

// ProductionActivityForTarget returns the activity that must exist at production
// so that requested remains at target, inflated by overagePercent.
func ProductionActivityForTarget(requested float64, halfLife time.Duration, target, production time.Time, overagePercent float64) (float64, error) {
	if requested <= 0 {
		return 0, fmt.Errorf("%w: requested activity must be positive, got %g", ErrInvalidParameter, requested)
	}
	if overagePercent < 0 {
		return 0, fmt.Errorf("%w: overage must not be negative, got %g", ErrInvalidParameter, overagePercent)
	}
	if production.After(target) {
		return 0, ErrProductionAfterTarget
	}

	atProduction, err := ActivityAt(requested, target, production, halfLife)
	if err != nil {
		return 0, err
	}
	return atProduction * (1 + overagePercent/100), nil
}

// Round returns activity rounded half-up to the given number of decimal places,
// for readouts. Computations keep full float precision.
func Round(activity float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(activity).Round(places)
}
