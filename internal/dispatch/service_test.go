/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/curie/internal/models"
)

var calibration = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

type fakeOrders struct {
	orders map[string]*models.Order
}

func (f *fakeOrders) Get(_ context.Context, id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

func (f *fakeOrders) move(id string, from, to models.OrderStatus) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	if o.Status != from {
		return nil, fmt.Errorf("order %s is %s", id, o.Status)
	}
	o.Status = to
	return o, nil
}

func (f *fakeOrders) MarkDispatched(_ context.Context, id, _ string) (*models.Order, error) {
	return f.move(id, models.OrderPending, models.OrderDispatched)
}

func (f *fakeOrders) MarkDelivered(_ context.Context, id, _ string) (*models.Order, error) {
	return f.move(id, models.OrderDispatched, models.OrderDelivered)
}

type fakeProducts struct{}

func (fakeProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	return &models.Product{ID: id, HalfLifeMinutes: 60}, nil
}

func newService(t *testing.T, now time.Time) (*Service, *fakeOrders) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Dispatch{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	orders := &fakeOrders{orders: map[string]*models.Order{
		"o-1": {
			ID:           "o-1",
			ProductID:    "p-1",
			DeliveryTime: calibration.Add(2 * time.Hour),
			ActivityUnit: "mCi",
			Status:       models.OrderPending,
		},
	}}
	svc := NewService(db, orders, fakeProducts{}, zerolog.Nop(), WithClock(func() time.Time { return now }))
	return svc, orders
}

func TestDepartureArrivalAndReadout(t *testing.T) {
	svc, orders := newService(t, calibration.Add(3*time.Hour))
	ctx := context.Background()

	d, err := svc.RecordDeparture(ctx, "o-1", Departure{
		BatchActivity:   200,
		CalibrationTime: calibration,
		DepartedAt:      calibration.Add(time.Hour),
	}, "ops")
	if err != nil {
		t.Fatalf("RecordDeparture: %v", err)
	}
	if orders.orders["o-1"].Status != models.OrderDispatched {
		t.Fatalf("order status = %s", orders.orders["o-1"].Status)
	}

	readout, err := svc.Activity(ctx, d.ID)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	want := map[string]string{
		"at_departure": "100",
		"at_delivery":  "50",
		"at_now":       "25",
	}
	got := map[string]string{
		"at_departure": readout.AtDeparture.String(),
		"at_delivery":  readout.AtDelivery.String(),
		"at_now":       readout.AtNow.String(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %s, want %s", k, got[k], v)
		}
	}

	arrived, err := svc.RecordArrival(ctx, d.ID, calibration.Add(150*time.Minute), "driver")
	if err != nil {
		t.Fatalf("RecordArrival: %v", err)
	}
	if arrived.ArrivedAt == nil || orders.orders["o-1"].Status != models.OrderDelivered {
		t.Fatalf("arrival not recorded: %+v", arrived)
	}

	readout, err = svc.Activity(ctx, d.ID)
	if err != nil {
		t.Fatalf("Activity after arrival: %v", err)
	}
	// 150 minutes after calibration with a 60 minute half-life.
	if readout.AtDelivery.String() != "35.36" {
		t.Fatalf("at_delivery = %s, want 35.36", readout.AtDelivery)
	}

	if _, err := svc.RecordArrival(ctx, d.ID, time.Time{}, "driver"); !errors.Is(err, ErrAlreadyArrived) {
		t.Fatalf("expected ErrAlreadyArrived, got %v", err)
	}
}

func TestRecordDepartureValidation(t *testing.T) {
	svc, orders := newService(t, calibration)
	ctx := context.Background()

	if _, err := svc.RecordDeparture(ctx, "o-1", Departure{CalibrationTime: calibration}, "ops"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero activity, got %v", err)
	}
	if _, err := svc.RecordDeparture(ctx, "o-1", Departure{BatchActivity: 10}, "ops"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for missing calibration, got %v", err)
	}
	if orders.orders["o-1"].Status != models.OrderPending {
		t.Fatal("validation failure must not touch the order")
	}
}

func TestRecordArrivalBeforeDeparture(t *testing.T) {
	svc, _ := newService(t, calibration.Add(time.Hour))
	ctx := context.Background()

	d, err := svc.RecordDeparture(ctx, "o-1", Departure{BatchActivity: 50, CalibrationTime: calibration}, "ops")
	if err != nil {
		t.Fatalf("RecordDeparture: %v", err)
	}
	if !d.DepartedAt.Equal(calibration.Add(time.Hour)) {
		t.Fatalf("DepartedAt = %v, want clock time", d.DepartedAt)
	}
	if _, err := svc.RecordArrival(ctx, d.ID, calibration, "driver"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestActivityUnknownDispatch(t *testing.T) {
	svc, _ := newService(t, calibration)
	if _, err := svc.Activity(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
