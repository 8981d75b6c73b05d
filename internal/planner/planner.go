/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner turns an order request into a feasible production plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/friendsincode/curie/internal/decay"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/schedule"
	"github.com/friendsincode/curie/internal/telemetry"
)

// ErrSynthesisInPast rejects plans whose synthesis would have to start before now.
var ErrSynthesisInPast = errors.New("synthesis start time is in the past")

// Catalog resolves the product and customer an order refers to.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
}

// Request is an order intake request.
type Request struct {
	ProductID         string     `json:"product_id"`
	CustomerID        string     `json:"customer_id"`
	DeliveryTime      time.Time  `json:"delivery_time"`
	TargetTime        *time.Time `json:"target_time,omitempty"` // defaults to DeliveryTime
	RequestedActivity float64    `json:"requested_activity"`
	ActivityUnit      string     `json:"activity_unit,omitempty"`
	DoseCount         int        `json:"dose_count,omitempty"`
}

// Plan is a computed production schedule. It is derived from its inputs and
// never stored as a source of truth.
type Plan struct {
	ProductID                 string          `json:"product_id"`
	CustomerID                string          `json:"customer_id"`
	Stages                    schedule.Stages `json:"stages"`
	TargetTime                time.Time       `json:"target_time"`
	RequestedActivity         float64         `json:"requested_activity"`
	ProductionActivity        float64         `json:"-"`
	ProductionActivityRounded decimal.Decimal `json:"production_activity"`
	ActivityUnit              string          `json:"activity_unit"`
	ShelfLifeMarginMinutes    float64         `json:"shelf_life_margin_minutes"`
	EstimatedMinutes          int             `json:"estimated_minutes"`
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// Planner combines the catalog with backward scheduling, decay and shelf-life
// checks.
type Planner struct {
	catalog Catalog
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a planner.
func New(catalog Catalog, logger zerolog.Logger, opts ...Option) *Planner {
	p := &Planner{
		catalog: catalog,
		logger:  logger.With().Str("component", "planner").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EstimateMinutes returns the capacity a booking consumes. With a dose count
// and a per-dose cost the product of the two is used; otherwise the full
// production chain duration.
func EstimateMinutes(p *models.Product, doseCount int) int {
	if doseCount > 0 && p.MinutesPerDose > 0 {
		return p.MinutesPerDose * doseCount
	}
	return p.SynthesisMinutes + p.QCMinutes + p.PackagingMinutes
}

// Plan computes the production plan for req.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner", "planner.Plan")
	defer span.End()

	plan, err := p.plan(ctx, req, true)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.ScheduleComputationsTotal.WithLabelValues(outcomeFor(err)).Inc()
		p.logger.Debug().Err(err).Str("product_id", req.ProductID).Str("customer_id", req.CustomerID).Msg("plan rejected")
		return nil, err
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"product_id":      plan.ProductID,
		"customer_id":     plan.CustomerID,
		"synthesis_start": plan.Stages.SynthesisStart,
		"delivery":        plan.Stages.Delivery,
	})
	telemetry.ScheduleComputationsTotal.WithLabelValues("feasible").Inc()
	return plan, nil
}

// Recompute rebuilds the plan of an accepted order. The synthesis start may
// already be past.
func (p *Planner) Recompute(ctx context.Context, req Request) (*Plan, error) {
	return p.plan(ctx, req, false)
}

func (p *Planner) plan(ctx context.Context, req Request, rejectPast bool) (*Plan, error) {
	switch {
	case req.ProductID == "" || req.CustomerID == "":
		return nil, fmt.Errorf("%w: product_id and customer_id are required", schedule.ErrInvalidParameter)
	case req.DeliveryTime.IsZero():
		return nil, fmt.Errorf("%w: delivery_time is required", schedule.ErrInvalidParameter)
	case req.RequestedActivity <= 0:
		return nil, fmt.Errorf("%w: requested_activity must be positive", schedule.ErrInvalidParameter)
	case req.DoseCount < 0:
		return nil, fmt.Errorf("%w: dose_count must not be negative", schedule.ErrInvalidParameter)
	}

	product, err := p.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	customer, err := p.catalog.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	delivery := req.DeliveryTime.UTC()
	stages, err := schedule.Backward(delivery, schedule.Durations{
		Travel:    customer.Travel(),
		Packaging: time.Duration(product.PackagingMinutes) * time.Minute,
		QC:        time.Duration(product.QCMinutes) * time.Minute,
		Synthesis: time.Duration(product.SynthesisMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	production := stages.SynthesisStart

	target := delivery
	if req.TargetTime != nil {
		target = req.TargetTime.UTC()
	}

	activity, err := decay.ProductionActivityForTarget(req.RequestedActivity, product.HalfLife(), target, production, product.OveragePercent)
	if errors.Is(err, decay.ErrProductionAfterTarget) {
		return nil, &schedule.ShelfLifeExceededError{
			OverMinutes: math.Ceil(production.Sub(target).Minutes()*10) / 10,
			Reason:      fmt.Sprintf("target time %s precedes production start %s", target.Format(time.RFC3339), production.Format(time.RFC3339)),
		}
	}
	if err != nil {
		return nil, err
	}

	// The dose is used at the later of delivery and target.
	usage := delivery
	if target.After(usage) {
		usage = target
	}
	if err := schedule.CheckShelfLife(production, usage, product.ShelfLife()); err != nil {
		return nil, err
	}

	if rejectPast && production.Before(p.now()) {
		return nil, fmt.Errorf("%w: synthesis would start at %s", ErrSynthesisInPast, production.Format(time.RFC3339))
	}

	unit := req.ActivityUnit
	if unit == "" {
		unit = product.ActivityUnit
	}

	return &Plan{
		ProductID:                 product.ID,
		CustomerID:                customer.ID,
		Stages:                    stages,
		TargetTime:                target,
		RequestedActivity:         req.RequestedActivity,
		ProductionActivity:        activity,
		ProductionActivityRounded: decay.Round(activity, 1),
		ActivityUnit:              unit,
		ShelfLifeMarginMinutes:    schedule.Margin(production, usage, product.ShelfLife()).Minutes(),
		EstimatedMinutes:          EstimateMinutes(product, req.DoseCount),
	}, nil
}

func outcomeFor(err error) string {
	var shelf *schedule.ShelfLifeExceededError
	switch {
	case errors.As(err, &shelf):
		return "shelf_life_exceeded"
	case errors.Is(err, ErrSynthesisInPast):
		return "synthesis_in_past"
	case errors.Is(err, schedule.ErrInvalidParameter), errors.Is(err, decay.ErrInvalidParameter):
		return "invalid"
	default:
		return "error"
	}
}
