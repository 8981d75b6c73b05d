/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule derives production stage start times backward from a
// delivery deadline and checks them against product shelf life.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidParameter is returned when a stage duration is negative.
var ErrInvalidParameter = errors.New("invalid parameter")

// Durations holds the time each stage takes. Travel is customer specific,
// the rest come from the product.
type Durations struct {
	Travel    time.Duration
	Packaging time.Duration
	QC        time.Duration
	Synthesis time.Duration
}

func (d Durations) validate() error {
	for _, stage := range []struct {
		name string
		d    time.Duration
	}{
		{"travel", d.Travel},
		{"packaging", d.Packaging},
		{"qc", d.QC},
		{"synthesis", d.Synthesis},
	} {
		if stage.d < 0 {
			return fmt.Errorf("%w: %s duration must not be negative, got %s", ErrInvalidParameter, stage.name, stage.d)
		}
	}
	return nil
}

// Stages are the latest start instants of each production stage.
type Stages struct {
	SynthesisStart time.Time `json:"synthesis_start"`
	QCStart        time.Time `json:"qc_start"`
	PackagingStart time.Time `json:"packaging_start"`
	Dispatch       time.Time `json:"dispatch"`
	Delivery       time.Time `json:"delivery"`
}

// Backward computes stage starts by walking back from delivery. It does not
// compare against the current time.
func Backward(delivery time.Time, d Durations) (Stages, error) {
	if err := d.validate(); err != nil {
		return Stages{}, err
	}

	s := Stages{Delivery: delivery}
	s.Dispatch = delivery.Add(-d.Travel)
	s.PackagingStart = s.Dispatch.Add(-d.Packaging)
	s.QCStart = s.PackagingStart.Add(-d.QC)
	s.SynthesisStart = s.QCStart.Add(-d.Synthesis)
	return s, nil
}

// Ordered reports whether the stages are non-decreasing in time.
func (s Stages) Ordered() bool {
	return !s.QCStart.Before(s.SynthesisStart) &&
		!s.PackagingStart.Before(s.QCStart) &&
		!s.Dispatch.Before(s.PackagingStart) &&
		!s.Delivery.Before(s.Dispatch)
}
