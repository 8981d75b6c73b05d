/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reservation implements the lifecycle of capacity holds:
// TENTATIVE holds that either get confirmed, lapse or are cancelled, and
// CONFIRMED reservations that are eventually converted into production.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/telemetry"
)

// DefaultHold is how long a TENTATIVE reservation holds capacity.
const DefaultHold = 15 * time.Minute

var errStale = errors.New("reservation changed concurrently")

// CreateRequest asks for a hold on a window.
type CreateRequest struct {
	WindowID         string
	EstimatedMinutes int
	CreatedBy        string
}

// Created is the result of a successful hold.
type Created struct {
	Reservation      models.Reservation `json:"reservation"`
	ExpiresInSeconds int64              `json:"expires_in_seconds"`
}

// Service owns reservation state transitions. All status writes go through
// transition.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	bus    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
	hold   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Use the same clock as the ledger.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHold overrides DefaultHold.
func WithHold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.hold = d
		}
	}
}

// NewService creates a reservation service. bus may be nil.
func NewService(db *gorm.DB, l *ledger.Ledger, bus events.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		ledger: l,
		bus:    bus,
		logger: logger.With().Str("component", "reservation").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		hold:   DefaultHold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hold returns the configured hold duration.
func (s *Service) Hold() time.Duration {
	return s.hold
}

// Create admits a TENTATIVE hold through the ledger. A window without room
// yields *ledger.CapacityRejectedError carrying the shortfall.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if req.EstimatedMinutes <= 0 {
		return nil, ledger.ErrInvalidMinutes
	}

	window, err := s.ledger.Window(ctx, req.WindowID)
	if err != nil {
		return nil, err
	}

	var created models.Reservation
	err = s.ledger.TryAdmit(ctx, req.WindowID, req.EstimatedMinutes, func(tx *gorm.DB, now time.Time) error {
		expires := now.Add(s.hold)
		created = models.Reservation{
			ID:               uuid.NewString(),
			WindowID:         req.WindowID,
			RequestedDate:    window.Date,
			EstimatedMinutes: req.EstimatedMinutes,
			Status:           models.ReservationTentative,
			ExpiresAt:        &expires,
			CreatedBy:        req.CreatedBy,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}

	telemetry.ReservationTransitionsTotal.WithLabelValues("NONE", string(models.ReservationTentative)).Inc()
	s.publish(events.EventReservationCreated, &created, req.CreatedBy)
	s.logger.Info().
		Str("reservation_id", created.ID).
		Str("window_id", created.WindowID).
		Int("minutes", created.EstimatedMinutes).
		Time("expires_at", *created.ExpiresAt).
		Msg("tentative reservation created")

	return &Created{
		Reservation:      created,
		ExpiresInSeconds: int64(created.ExpiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// Get loads a reservation by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// List returns reservations for a window, optionally filtered by status.
func (s *Service) List(ctx context.Context, windowID string, status models.ReservationStatus) ([]models.Reservation, error) {
	var out []models.Reservation
	q := s.db.WithContext(ctx).Where("window_id = ?", windowID).Order("created_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Confirm turns a TENTATIVE hold into a durable commitment. The expiry check
// and the status write run under the ledger's window serialization, so a hold
// that lapses cannot be confirmed after its minutes were handed to someone
// else. A lapsed hold is marked EXPIRED and ErrExpired is returned. Confirming
// again as the same caller before conversion returns the reservation unchanged.
func (s *Service) Confirm(ctx context.Context, id, caller string) (*models.Reservation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		switch r.Status {
		case models.ReservationConfirmed:
			if r.ConvertedEntityID == nil && r.CreatedBy == caller {
				return r, nil
			}
			return nil, &TransitionError{ReservationID: id, From: r.Status, To: models.ReservationConfirmed}
		case models.ReservationExpired:
			return nil, fmt.Errorf("reservation %s: %w", id, ErrExpired)
		case models.ReservationTentative:
			var (
				target models.ReservationStatus
				at     time.Time
			)
			err := s.ledger.Serialize(ctx, r.WindowID, func(tx *gorm.DB, now time.Time) error {
				target, at = models.ReservationConfirmed, now
				if r.ExpiredAt(now) {
					target = models.ReservationExpired
				}
				return writeTransition(tx, r, target, now)
			})
			if errors.Is(err, errStale) {
				continue
			}
			if err != nil {
				return nil, err
			}
			s.applied(r, target, at, caller)
			if target == models.ReservationExpired {
				return nil, fmt.Errorf("reservation %s: %w", id, ErrExpired)
			}
			return r, nil
		default:
			return nil, &TransitionError{ReservationID: id, From: r.Status, To: models.ReservationConfirmed}
		}
	}
	return nil, fmt.Errorf("confirm reservation %s: %w", id, errStale)
}

// Cancel releases a TENTATIVE hold. A hold that has already lapsed is marked
// EXPIRED instead and ErrExpired is returned.
func (s *Service) Cancel(ctx context.Context, id, caller string) (*models.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if r.Status != models.ReservationTentative {
		return nil, &TransitionError{ReservationID: id, From: r.Status, To: models.ReservationCancelled}
	}
	if r.ExpiredAt(now) {
		if err := s.transition(ctx, r, models.ReservationExpired, now, caller); err != nil && !errors.Is(err, errStale) {
			return nil, err
		}
		return nil, fmt.Errorf("reservation %s: %w", id, ErrExpired)
	}
	if err := s.transition(ctx, r, models.ReservationCancelled, now, caller); err != nil {
		if errors.Is(err, errStale) {
			return nil, s.staleError(ctx, id, models.ReservationCancelled)
		}
		return nil, err
	}
	return r, nil
}

// Link records the downstream entity created from a CONFIRMED reservation.
// The reservation keeps holding capacity until Convert.
func (s *Service) Link(ctx context.Context, id, entityID string) (*models.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReservationConfirmed {
		return nil, &TransitionError{ReservationID: id, From: r.Status, To: models.ReservationConverted}
	}
	if r.ConvertedEntityID != nil {
		if *r.ConvertedEntityID == entityID {
			return r, nil
		}
		return nil, ErrAlreadyLinked
	}

	res := s.db.WithContext(ctx).Model(&models.Reservation{}).
		Where("id = ? AND status = ? AND converted_entity_id IS NULL", id, models.ReservationConfirmed).
		Update("converted_entity_id", entityID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyLinked
	}
	r.ConvertedEntityID = &entityID
	return r, nil
}

// Convert finishes a CONFIRMED reservation once its downstream entity has
// been produced or withdrawn, releasing the window minutes.
func (s *Service) Convert(ctx context.Context, id, entityID, caller string) (*models.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReservationConfirmed {
		return nil, &TransitionError{ReservationID: id, From: r.Status, To: models.ReservationConverted}
	}
	if entityID == "" && r.ConvertedEntityID != nil {
		entityID = *r.ConvertedEntityID
	}
	if r.ConvertedEntityID != nil && *r.ConvertedEntityID != entityID {
		return nil, ErrAlreadyLinked
	}
	if entityID == "" {
		return nil, fmt.Errorf("reservation %s: converted entity id is required", id)
	}
	r.ConvertedEntityID = &entityID

	if err := s.transition(ctx, r, models.ReservationConverted, s.now(), caller); err != nil {
		if errors.Is(err, errStale) {
			return nil, s.staleError(ctx, id, models.ReservationConverted)
		}
		return nil, err
	}
	return r, nil
}

// SweepExpired marks lapsed TENTATIVE holds EXPIRED. Capacity accounting does
// not depend on it; the sweep keeps stored statuses accurate for reporting.
// Safe to run repeatedly and concurrently.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var candidates []models.Reservation
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.ReservationTentative, now).
		Find(&candidates).Error; err != nil {
		return 0, fmt.Errorf("load lapsed reservations: %w", err)
	}

	expired := 0
	for i := range candidates {
		r := &candidates[i]
		err := s.transition(ctx, r, models.ReservationExpired, now, "")
		switch {
		case err == nil:
			expired++
		case errors.Is(err, errStale):
			// Confirmed, cancelled or swept elsewhere in the meantime.
		default:
			return expired, err
		}
	}
	return expired, nil
}

// transition performs a compare-and-swap on status so that concurrent
// confirm, cancel and sweep calls cannot both succeed.
func (s *Service) transition(ctx context.Context, r *models.Reservation, to models.ReservationStatus, now time.Time, actor string) error {
	if err := writeTransition(s.db.WithContext(ctx), r, to, now); err != nil {
		return err
	}
	s.applied(r, to, now, actor)
	return nil
}

// writeTransition stores the new status if r is still in its loaded status.
// A confirmation also requires the hold to be live at now. r is not modified.
func writeTransition(db *gorm.DB, r *models.Reservation, to models.ReservationStatus, now time.Time) error {
	from := r.Status
	if !from.CanTransition(to) {
		return &TransitionError{ReservationID: r.ID, From: from, To: to}
	}

	updates := map[string]any{"status": to}
	switch to {
	case models.ReservationConfirmed:
		updates["confirmed_at"] = now
	case models.ReservationConverted:
		updates["converted_entity_id"] = r.ConvertedEntityID
		updates["closed_at"] = now
	default:
		updates["closed_at"] = now
	}

	q := db.Model(&models.Reservation{}).Where("id = ? AND status = ?", r.ID, from)
	if to == models.ReservationConfirmed {
		q = q.Where("(expires_at IS NULL OR expires_at >= ?)", now)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update reservation %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errStale
	}
	return nil
}

// applied mirrors a committed transition onto r and announces it.
func (s *Service) applied(r *models.Reservation, to models.ReservationStatus, now time.Time, actor string) {
	from := r.Status
	r.Status = to
	switch to {
	case models.ReservationConfirmed:
		r.ConfirmedAt = &now
	default:
		r.ClosedAt = &now
	}

	telemetry.ReservationTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.publish(eventFor(to), r, actor)
	s.logger.Debug().
		Str("reservation_id", r.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("reservation transition")
}

func (s *Service) staleError(ctx context.Context, id string, to models.ReservationStatus) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.ReservationExpired {
		return fmt.Errorf("reservation %s: %w", id, ErrExpired)
	}
	return &TransitionError{ReservationID: id, From: current.Status, To: to}
}

func (s *Service) publish(eventType events.EventType, r *models.Reservation, actor string) {
	if s.bus == nil {
		return
	}
	payload := events.Payload{
		"reservation_id":    r.ID,
		"window_id":         r.WindowID,
		"status":            string(r.Status),
		"estimated_minutes": r.EstimatedMinutes,
		"actor":             actor,
	}
	if r.ConvertedEntityID != nil {
		payload["converted_entity_id"] = *r.ConvertedEntityID
	}
	s.bus.Publish(eventType, payload)
}

func eventFor(status models.ReservationStatus) events.EventType {
	switch status {
	case models.ReservationConfirmed:
		return events.EventReservationConfirmed
	case models.ReservationCancelled:
		return events.EventReservationCancelled
	case models.ReservationExpired:
		return events.EventReservationExpired
	case models.ReservationConverted:
		return events.EventReservationConverted
	}
	return events.EventReservationCreated
}
