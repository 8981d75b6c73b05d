/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package export writes the daily production plan to object storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/schedule"
	"github.com/friendsincode/curie/internal/storage"
	"github.com/friendsincode/curie/internal/telemetry"
)

const dateLayout = "2006-01-02"

// Orders lists the orders delivered on a date.
type Orders interface {
	ListByDate(ctx context.Context, date string) ([]models.Order, error)
}

// Windows lists capacity windows on a date.
type Windows interface {
	ListWindows(ctx context.Context, date string) ([]ledger.Snapshot, error)
}

// Replanner recomputes an accepted order's schedule.
type Replanner interface {
	Recompute(ctx context.Context, req planner.Request) (*planner.Plan, error)
}

// DayPlan is the exported document.
type DayPlan struct {
	Date        string            `json:"date"`
	GeneratedAt time.Time         `json:"generated_at"`
	Windows     []ledger.Snapshot `json:"windows"`
	Orders      []PlannedOrder    `json:"orders"`
}

// PlannedOrder is an order with its recomputed stages. Error is set when the
// order no longer plans, for example after a catalog change.
type PlannedOrder struct {
	Order              models.Order     `json:"order"`
	Stages             *schedule.Stages `json:"stages,omitempty"`
	ProductionActivity *decimal.Decimal `json:"production_activity,omitempty"`
	Error              string           `json:"error,omitempty"`
}

// Result describes a written export.
type Result struct {
	Key    string `json:"key"`
	Store  string `json:"store"`
	Orders int    `json:"orders"`
	Bytes  int    `json:"bytes"`
}

// Service builds and stores day plans.
type Service struct {
	orders  Orders
	windows Windows
	planner Replanner
	store   storage.ObjectStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates an export service.
func NewService(orders Orders, windows Windows, p Replanner, store storage.ObjectStore, logger zerolog.Logger) *Service {
	return &Service{
		orders:  orders,
		windows: windows,
		planner: p,
		store:   store,
		logger:  logger.With().Str("component", "export").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the object key for a date.
func Key(date string) string {
	return "schedules/" + date + ".json"
}

// Build assembles the plan for date without storing it.
func (s *Service) Build(ctx context.Context, date string) (*DayPlan, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", schedule.ErrInvalidParameter)
	}

	windows, err := s.windows.ListWindows(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	orders, err := s.orders.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	plan := &DayPlan{
		Date:        date,
		GeneratedAt: s.now(),
		Windows:     windows,
		Orders:      make([]PlannedOrder, 0, len(orders)),
	}
	for _, o := range orders {
		po := PlannedOrder{Order: o}
		if o.Status == models.OrderCancelled {
			plan.Orders = append(plan.Orders, po)
			continue
		}
		p, err := s.planner.Recompute(ctx, planner.Request{
			ProductID:         o.ProductID,
			CustomerID:        o.CustomerID,
			DeliveryTime:      o.DeliveryTime,
			TargetTime:        o.TargetTime,
			RequestedActivity: o.RequestedActivity,
			ActivityUnit:      o.ActivityUnit,
		})
		if err != nil {
			po.Error = err.Error()
		} else {
			po.Stages = &p.Stages
			po.ProductionActivity = &p.ProductionActivityRounded
		}
		plan.Orders = append(plan.Orders, po)
	}
	return plan, nil
}

// ExportDay builds the plan for date and writes it to the store.
func (s *Service) ExportDay(ctx context.Context, date string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "export", "export.ExportDay")
	defer span.End()

	plan, err := s.Build(ctx, date)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.ExportsTotal.WithLabelValues(s.store.Name(), "error").Inc()
		return nil, err
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal day plan: %w", err)
	}

	key := Key(date)
	if err := s.store.Put(ctx, key, data, "application/json"); err != nil {
		telemetry.RecordError(span, err)
		telemetry.ExportsTotal.WithLabelValues(s.store.Name(), "error").Inc()
		return nil, err
	}
	telemetry.ExportsTotal.WithLabelValues(s.store.Name(), "ok").Inc()

	s.logger.Info().Str("key", key).Int("orders", len(plan.Orders)).Msg("day plan exported")
	return &Result{Key: key, Store: s.store.Name(), Orders: len(plan.Orders), Bytes: len(data)}, nil
}
