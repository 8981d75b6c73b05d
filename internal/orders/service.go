/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orders accepts dose orders and drives their reservations to
// conversion.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/planner"
)

var (
	// ErrNotFound indicates no order has the requested id.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidState indicates the order's status does not allow the
	// requested step, such as dispatching a cancelled order.
	ErrInvalidState = errors.New("invalid order state")
)

// Planner computes feasible plans.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Plan, error)
}

// Reservations is the slice of the reservation state machine orders use.
type Reservations interface {
	Confirm(ctx context.Context, id, caller string) (*models.Reservation, error)
	Link(ctx context.Context, id, entityID string) (*models.Reservation, error)
	Convert(ctx context.Context, id, entityID, caller string) (*models.Reservation, error)
}

// PlaceRequest places an order, optionally against a held reservation.
type PlaceRequest struct {
	planner.Request
	ReservationID string `json:"reservation_id,omitempty"`
	Caller        string `json:"-"`
}

// Placed is the outcome of PlaceOrder.
type Placed struct {
	Order *models.Order `json:"order"`
	Plan  *planner.Plan `json:"plan"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns order rows.
type Service struct {
	db           *gorm.DB
	planner      Planner
	reservations Reservations
	bus          events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates an order service.
func NewService(db *gorm.DB, p Planner, r Reservations, bus events.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		db:           db,
		planner:      p,
		reservations: r,
		bus:          bus,
		logger:       logger.With().Str("component", "orders").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder plans the order, confirms its reservation, stores the order and
// links the reservation to it. A hold that lapsed surfaces as
// reservation.ErrExpired and nothing is stored.
//
// If storing or linking fails after the confirmation, no order is kept and the
// reservation stays CONFIRMED and unlinked with its minutes committed. The
// same caller recovers by calling PlaceOrder again with the same reservation:
// re-confirmation by the owner is idempotent until the reservation is linked.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (*Placed, error) {
	plan, err := s.planner.Plan(ctx, req.Request)
	if err != nil {
		return nil, err
	}

	if req.ReservationID != "" {
		if _, err := s.reservations.Confirm(ctx, req.ReservationID, req.Caller); err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		ID:                uuid.NewString(),
		ProductID:         plan.ProductID,
		CustomerID:        plan.CustomerID,
		DeliveryDate:      plan.Stages.Delivery.Format("2006-01-02"),
		DeliveryTime:      plan.Stages.Delivery,
		RequestedActivity: plan.RequestedActivity,
		ActivityUnit:      plan.ActivityUnit,
		Status:            models.OrderPending,
		CreatedBy:         req.Caller,
	}
	if req.TargetTime != nil {
		target := plan.TargetTime
		order.TargetTime = &target
	}
	if req.ReservationID != "" {
		resID := req.ReservationID
		order.ReservationID = &resID
	}

	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		s.warnUnlinked(order, err)
		return nil, fmt.Errorf("create order: %w", err)
	}

	if order.ReservationID != nil {
		if _, err := s.reservations.Link(ctx, *order.ReservationID, order.ID); err != nil {
			if delErr := s.db.WithContext(ctx).Delete(&models.Order{}, "id = ?", order.ID).Error; delErr != nil {
				s.logger.Error().Err(delErr).Str("order_id", order.ID).Msg("failed to remove unlinked order")
			}
			s.warnUnlinked(order, err)
			return nil, err
		}
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("product_id", order.ProductID).
		Time("synthesis_start", plan.Stages.SynthesisStart).
		Msg("order placed")
	s.publish(events.EventOrderPlaced, order, req.Caller)

	return &Placed{Order: order, Plan: plan}, nil
}

// Get loads an order.
func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &o, nil
}

// ListByDate returns orders delivered on date (YYYY-MM-DD) in delivery order.
func (s *Service) ListByDate(ctx context.Context, date string) ([]models.Order, error) {
	var out []models.Order
	if err := s.db.WithContext(ctx).
		Where("delivery_date = ?", date).
		Order("delivery_time").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// Cancel withdraws a pending order and converts its reservation, which
// releases the window minutes.
func (s *Service) Cancel(ctx context.Context, id, caller string) (*models.Order, error) {
	o, err := s.move(ctx, id, models.OrderPending, models.OrderCancelled)
	if err != nil {
		return nil, err
	}
	s.convertReservation(ctx, o, caller)
	s.publish(events.EventOrderCancelled, o, caller)
	return o, nil
}

// MarkDispatched moves a pending order to dispatched and converts its
// reservation.
func (s *Service) MarkDispatched(ctx context.Context, id, caller string) (*models.Order, error) {
	o, err := s.move(ctx, id, models.OrderPending, models.OrderDispatched)
	if err != nil {
		return nil, err
	}
	s.convertReservation(ctx, o, caller)
	s.publish(events.EventOrderDispatched, o, caller)
	return o, nil
}

// MarkDelivered moves a dispatched order to delivered.
func (s *Service) MarkDelivered(ctx context.Context, id, caller string) (*models.Order, error) {
	o, err := s.move(ctx, id, models.OrderDispatched, models.OrderDelivered)
	if err != nil {
		return nil, err
	}
	s.publish(events.EventOrderDelivered, o, caller)
	return o, nil
}

// move applies a status compare-and-swap.
func (s *Service) move(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, cannot become %s", ErrInvalidState, id, o.Status, to)
	}

	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": s.now()})
	if res.Error != nil {
		return nil, fmt.Errorf("update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidState, id)
	}
	o.Status = to
	return o, nil
}

// convertReservation is best effort: the order transition already happened
// and an unconverted reservation only keeps minutes committed.
func (s *Service) convertReservation(ctx context.Context, o *models.Order, caller string) {
	if o.ReservationID == nil {
		return
	}
	if _, err := s.reservations.Convert(ctx, *o.ReservationID, o.ID, caller); err != nil {
		s.logger.Error().Err(err).
			Str("order_id", o.ID).
			Str("reservation_id", *o.ReservationID).
			Msg("failed to convert reservation")
	}
}

func (s *Service) warnUnlinked(o *models.Order, err error) {
	if o.ReservationID == nil {
		return
	}
	s.logger.Warn().Err(err).
		Str("reservation_id", *o.ReservationID).
		Str("caller", o.CreatedBy).
		Msg("reservation confirmed but no order linked; retry with the same reservation")
}

func (s *Service) publish(eventType events.EventType, o *models.Order, actor string) {
	payload := events.Payload{
		"order_id":      o.ID,
		"product_id":    o.ProductID,
		"customer_id":   o.CustomerID,
		"status":        string(o.Status),
		"delivery_time": o.DeliveryTime.Format(time.RFC3339),
		"actor":         actor,
	}
	if o.ReservationID != nil {
		payload["reservation_id"] = *o.ReservationID
	}
	s.bus.Publish(eventType, payload)
}
