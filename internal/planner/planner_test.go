/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/schedule"
)

type fakeCatalog struct {
	products  map[string]*models.Product
	customers map[string]*models.Customer
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (*models.Product, error) {
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrProductNotFound
}

func (f *fakeCatalog) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, catalog.ErrCustomerNotFound
}

var delivery = time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC)

func newPlanner(now time.Time) *Planner {
	cat := &fakeCatalog{
		products: map[string]*models.Product{
			"p-1": {
				ID:               "p-1",
				Code:             "TEST",
				HalfLifeMinutes:  360,
				ShelfLifeMinutes: 480,
				SynthesisMinutes: 90,
				QCMinutes:        30,
				PackagingMinutes: 15,
				MinutesPerDose:   4,
				ActivityUnit:     "mCi",
			},
		},
		customers: map[string]*models.Customer{
			"c-1": {ID: "c-1", Code: "HOSP", TravelMinutes: 60},
		},
	}
	return New(cat, zerolog.Nop(), WithClock(func() time.Time { return now }))
}

func TestPlanScenario(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))

	plan, err := p.Plan(context.Background(), Request{
		ProductID:         "p-1",
		CustomerID:        "c-1",
		DeliveryTime:      delivery,
		RequestedActivity: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, delivery.Add(-60*time.Minute), plan.Stages.Dispatch)
	assert.Equal(t, delivery.Add(-75*time.Minute), plan.Stages.PackagingStart)
	assert.Equal(t, delivery.Add(-105*time.Minute), plan.Stages.QCStart)
	assert.Equal(t, delivery.Add(-195*time.Minute), plan.Stages.SynthesisStart)
	assert.True(t, plan.Stages.Ordered())

	assert.InDelta(t, 145.565, plan.ProductionActivity, 0.01)
	assert.Equal(t, "145.6", plan.ProductionActivityRounded.String())
	assert.Equal(t, "mCi", plan.ActivityUnit)
	assert.InDelta(t, 285, plan.ShelfLifeMarginMinutes, 1e-9)
	assert.Equal(t, 135, plan.EstimatedMinutes)
	assert.Equal(t, delivery, plan.TargetTime)
}

func TestPlanUsesDoseCountForEstimate(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))

	plan, err := p.Plan(context.Background(), Request{
		ProductID:         "p-1",
		CustomerID:        "c-1",
		DeliveryTime:      delivery,
		RequestedActivity: 10,
		DoseCount:         12,
	})
	require.NoError(t, err)
	assert.Equal(t, 48, plan.EstimatedMinutes)
}

func TestPlanLaterTargetNeedsMoreActivity(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))
	ctx := context.Background()

	base, err := p.Plan(ctx, Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 100})
	require.NoError(t, err)

	target := delivery.Add(2 * time.Hour)
	later, err := p.Plan(ctx, Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, TargetTime: &target, RequestedActivity: 100})
	require.NoError(t, err)

	assert.Greater(t, later.ProductionActivity, base.ProductionActivity)
	assert.InDelta(t, 165, later.ShelfLifeMarginMinutes, 1e-9)
}

func TestPlanTargetBeyondShelfLife(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))

	// 195 minutes of production lead plus 300 after delivery is 15 past 480.
	target := delivery.Add(300 * time.Minute)
	_, err := p.Plan(context.Background(), Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, TargetTime: &target, RequestedActivity: 100})

	var shelf *schedule.ShelfLifeExceededError
	require.ErrorAs(t, err, &shelf)
	assert.InDelta(t, 15, shelf.OverMinutes, 1e-9)
}

func TestPlanTargetBeforeProduction(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))

	target := delivery.Add(-200 * time.Minute)
	_, err := p.Plan(context.Background(), Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, TargetTime: &target, RequestedActivity: 100})

	var shelf *schedule.ShelfLifeExceededError
	require.ErrorAs(t, err, &shelf)
	assert.InDelta(t, 5, shelf.OverMinutes, 1e-9)
	assert.Contains(t, shelf.Reason, "precedes production start")
}

func TestPlanSynthesisInPast(t *testing.T) {
	p := newPlanner(delivery.Add(-3 * time.Hour))

	_, err := p.Plan(context.Background(), Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 100})
	assert.ErrorIs(t, err, ErrSynthesisInPast)
}

func TestPlanValidation(t *testing.T) {
	p := newPlanner(delivery.Add(-6 * time.Hour))
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing product", Request{CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 1}, schedule.ErrInvalidParameter},
		{"missing delivery", Request{ProductID: "p-1", CustomerID: "c-1", RequestedActivity: 1}, schedule.ErrInvalidParameter},
		{"zero activity", Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery}, schedule.ErrInvalidParameter},
		{"negative doses", Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 1, DoseCount: -1}, schedule.ErrInvalidParameter},
		{"unknown product", Request{ProductID: "nope", CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 1}, catalog.ErrProductNotFound},
		{"unknown customer", Request{ProductID: "p-1", CustomerID: "nope", DeliveryTime: delivery, RequestedActivity: 1}, catalog.ErrCustomerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Plan(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRecomputeIgnoresPast(t *testing.T) {
	p := newPlanner(delivery)

	plan, err := p.Recompute(context.Background(), Request{ProductID: "p-1", CustomerID: "c-1", DeliveryTime: delivery, RequestedActivity: 100})
	require.NoError(t, err)
	assert.Equal(t, delivery.Add(-195*time.Minute), plan.Stages.SynthesisStart)
}
