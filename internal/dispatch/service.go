/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch records shipments and reports decayed activity for them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/decay"
	"github.com/friendsincode/curie/internal/models"
)

var (
	ErrNotFound         = errors.New("dispatch not found")
	ErrInvalidParameter = errors.New("invalid dispatch parameter")
	ErrAlreadyArrived   = errors.New("dispatch already arrived")
)

// Orders moves orders through shipment.
type Orders interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	MarkDispatched(ctx context.Context, id, caller string) (*models.Order, error)
	MarkDelivered(ctx context.Context, id, caller string) (*models.Order, error)
}

// Products resolves half-lives.
type Products interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// Departure describes a batch leaving the site.
type Departure struct {
	BatchActivity   float64   `json:"batch_activity"`
	CalibrationTime time.Time `json:"calibration_time"`
	DepartedAt      time.Time `json:"departed_at"` // zero means now
}

// Readout is the decayed activity of a shipment at the instants of interest.
type Readout struct {
	DispatchID      string          `json:"dispatch_id"`
	OrderID         string          `json:"order_id"`
	Unit            string          `json:"unit"`
	CalibrationTime time.Time       `json:"calibration_time"`
	BatchActivity   decimal.Decimal `json:"batch_activity"`
	AtDeparture     decimal.Decimal `json:"at_departure"`
	AtDelivery      decimal.Decimal `json:"at_delivery"` // actual arrival, else scheduled delivery
	AtNow           decimal.Decimal `json:"at_now"`
	Now             time.Time       `json:"now"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service stores dispatch records. Readouts never modify scheduling state.
type Service struct {
	db       *gorm.DB
	orders   Orders
	products Products
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a dispatch service.
func NewService(db *gorm.DB, orders Orders, products Products, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		orders:   orders,
		products: products,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordDeparture stores the shipment and marks the order dispatched.
func (s *Service) RecordDeparture(ctx context.Context, orderID string, dep Departure, caller string) (*models.Dispatch, error) {
	if dep.BatchActivity <= 0 {
		return nil, fmt.Errorf("%w: batch_activity must be positive", ErrInvalidParameter)
	}
	if dep.CalibrationTime.IsZero() {
		return nil, fmt.Errorf("%w: calibration_time is required", ErrInvalidParameter)
	}
	departed := dep.DepartedAt
	if departed.IsZero() {
		departed = s.now()
	}

	if _, err := s.orders.MarkDispatched(ctx, orderID, caller); err != nil {
		return nil, err
	}

	d := &models.Dispatch{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		BatchActivity:   dep.BatchActivity,
		CalibrationTime: dep.CalibrationTime.UTC(),
		DepartedAt:      departed.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, fmt.Errorf("create dispatch: %w", err)
	}

	s.logger.Info().Str("dispatch_id", d.ID).Str("order_id", orderID).Msg("dispatch recorded")
	return d, nil
}

// Get loads a dispatch.
func (s *Service) Get(ctx context.Context, id string) (*models.Dispatch, error) {
	var d models.Dispatch
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dispatch: %w", err)
	}
	return &d, nil
}

// RecordArrival stamps the arrival time and marks the order delivered.
func (s *Service) RecordArrival(ctx context.Context, id string, arrivedAt time.Time, caller string) (*models.Dispatch, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.ArrivedAt != nil {
		return nil, ErrAlreadyArrived
	}
	if arrivedAt.IsZero() {
		arrivedAt = s.now()
	}
	arrivedAt = arrivedAt.UTC()
	if arrivedAt.Before(d.DepartedAt) {
		return nil, fmt.Errorf("%w: arrival precedes departure", ErrInvalidParameter)
	}

	res := s.db.WithContext(ctx).Model(&models.Dispatch{}).
		Where("id = ? AND arrived_at IS NULL", id).
		Update("arrived_at", arrivedAt)
	if res.Error != nil {
		return nil, fmt.Errorf("update dispatch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyArrived
	}
	d.ArrivedAt = &arrivedAt

	if _, err := s.orders.MarkDelivered(ctx, d.OrderID, caller); err != nil {
		return nil, err
	}
	return d, nil
}

// Activity reports the batch activity decayed to departure, delivery and now.
func (s *Service) Activity(ctx context.Context, id string) (*Readout, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	product, err := s.products.GetProduct(ctx, order.ProductID)
	if err != nil {
		return nil, err
	}

	halfLife := product.HalfLife()
	at := func(t time.Time) (decimal.Decimal, error) {
		a, err := decay.ActivityAt(d.BatchActivity, d.CalibrationTime, t, halfLife)
		if err != nil {
			return decimal.Zero, err
		}
		return decay.Round(a, 2), nil
	}

	now := s.now()
	out := &Readout{
		DispatchID:      d.ID,
		OrderID:         d.OrderID,
		Unit:            order.ActivityUnit,
		CalibrationTime: d.CalibrationTime,
		BatchActivity:   decay.Round(d.BatchActivity, 2),
		Now:             now,
	}
	if out.AtDeparture, err = at(d.DepartedAt); err != nil {
		return nil, err
	}
	if out.AtNow, err = at(now); err != nil {
		return nil, err
	}

	delivered := order.DeliveryTime
	if d.ArrivedAt != nil {
		delivered = *d.ArrivedAt
	}
	if out.AtDelivery, err = at(delivered); err != nil {
		return nil, err
	}
	return out, nil
}
