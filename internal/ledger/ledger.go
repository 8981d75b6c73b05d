/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger tracks production capacity per window. Committed minutes are
// always derived from live reservations and never stored.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/telemetry"
)

var (
	// ErrWindowNotFound indicates the capacity window does not exist.
	ErrWindowNotFound = errors.New("capacity window not found")

	// ErrInvalidWindow indicates a window definition failed validation.
	ErrInvalidWindow = errors.New("invalid capacity window")

	// ErrInvalidMinutes indicates a non-positive admission request.
	ErrInvalidMinutes = errors.New("requested minutes must be positive")

	errVersionConflict = errors.New("capacity window version changed")
)

// CapacityRejectedError is returned when an admission does not fit. Cause is
// set when the rejection comes from a lock or transaction failure rather than
// from arithmetic; the ledger never admits on such failures.
type CapacityRejectedError struct {
	WindowID  string
	Requested int
	Available int
	Shortfall int
	Cause     error
}

func (e *CapacityRejectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capacity rejected for window %s: %v", e.WindowID, e.Cause)
	}
	return fmt.Sprintf("capacity rejected for window %s: requested %d minutes, %d available (short %d)",
		e.WindowID, e.Requested, e.Available, e.Shortfall)
}

func (e *CapacityRejectedError) Unwrap() error {
	return e.Cause
}

// InsertFunc persists the admitted reservation inside the admission
// transaction. now is the instant the capacity check was evaluated at.
type InsertFunc func(tx *gorm.DB, now time.Time) error

// Snapshot is a point-in-time view of a window's consumption.
type Snapshot struct {
	Window           models.CapacityWindow `json:"window"`
	CommittedMinutes int                   `json:"committed_minutes"`
	AvailableMinutes int                   `json:"available_minutes"`
	At               time.Time             `json:"at"`
}

// Ledger serializes admissions per window.
type Ledger struct {
	db          *gorm.DB
	logger      zerolog.Logger
	now         func() time.Time
	locks       *windowLocks
	maxAttempts int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to evaluate hold expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMaxAttempts bounds version-conflict retries before failing closed.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// New creates a ledger.
func New(db *gorm.DB, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:          db,
		logger:      logger.With().Str("component", "ledger").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		locks:       newWindowLocks(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateWindow validates and stores a new capacity window.
func (l *Ledger) CreateWindow(ctx context.Context, w *models.CapacityWindow) error {
	if w.CapacityMinutes <= 0 {
		return fmt.Errorf("%w: capacity minutes must be positive", ErrInvalidWindow)
	}
	if w.StartTime.IsZero() || !w.EndTime.After(w.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidWindow)
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.StartTime = w.StartTime.UTC()
	w.EndTime = w.EndTime.UTC()
	if w.Date == "" {
		w.Date = w.StartTime.Format(time.DateOnly)
	}
	w.Version = 0
	return l.db.WithContext(ctx).Create(w).Error
}

// Window loads a window by id.
func (l *Ledger) Window(ctx context.Context, windowID string) (*models.CapacityWindow, error) {
	var w models.CapacityWindow
	if err := l.db.WithContext(ctx).First(&w, "id = ?", windowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CommittedMinutes sums minutes held by CONFIRMED reservations and TENTATIVE
// ones whose hold has not lapsed, regardless of whether a sweep has run.
func (l *Ledger) CommittedMinutes(ctx context.Context, windowID string) (int, error) {
	if _, err := l.Window(ctx, windowID); err != nil {
		return 0, err
	}
	return committedMinutes(l.db.WithContext(ctx), windowID, l.now())
}

// AvailableMinutes returns capacity minus committed, never below zero.
func (l *Ledger) AvailableMinutes(ctx context.Context, windowID string) (int, error) {
	snap, err := l.Snapshot(ctx, windowID)
	if err != nil {
		return 0, err
	}
	return snap.AvailableMinutes, nil
}

// Snapshot returns the window with its derived consumption.
func (l *Ledger) Snapshot(ctx context.Context, windowID string) (*Snapshot, error) {
	w, err := l.Window(ctx, windowID)
	if err != nil {
		return nil, err
	}
	return l.snapshot(ctx, *w)
}

// ListWindows returns snapshots of all windows on date (YYYY-MM-DD), or all
// windows when date is empty.
func (l *Ledger) ListWindows(ctx context.Context, date string) ([]Snapshot, error) {
	var windows []models.CapacityWindow
	q := l.db.WithContext(ctx).Order("start_time ASC")
	if date != "" {
		q = q.Where("date = ?", date)
	}
	if err := q.Find(&windows).Error; err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(windows))
	for _, w := range windows {
		snap, err := l.snapshot(ctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (l *Ledger) snapshot(ctx context.Context, w models.CapacityWindow) (*Snapshot, error) {
	now := l.now()
	committed, err := committedMinutes(l.db.WithContext(ctx), w.ID, now)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Window:           w,
		CommittedMinutes: committed,
		AvailableMinutes: available(w.CapacityMinutes, committed),
		At:               now,
	}, nil
}

// TryAdmit checks that minutes fit in the window and, if so, runs insert in
// the same transaction. Admissions on one window are serialized by an
// in-process lock, a row lock where the dialect has one, and a version
// compare-and-swap. Any failure along that path is reported as a
// *CapacityRejectedError.
func (l *Ledger) TryAdmit(ctx context.Context, windowID string, minutes int, insert InsertFunc) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}

	ctx, span := telemetry.StartSpan(ctx, "ledger", "TryAdmit")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"window_id": windowID,
		"minutes":   minutes,
	})

	start := time.Now()
	defer func() { telemetry.AdmissionDuration.Observe(time.Since(start).Seconds()) }()

	release, err := l.locks.acquire(ctx, windowID)
	if err != nil {
		return l.failClosed(span, windowID, minutes, fmt.Errorf("acquire window lock: %w", err))
	}
	defer release()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.admitOnce(ctx, windowID, minutes, insert)
		if !errors.Is(err, errVersionConflict) {
			break
		}
		l.logger.Debug().Str("window_id", windowID).Int("attempt", attempt).Msg("window version conflict, retrying")
	}

	var rejected *CapacityRejectedError
	switch {
	case err == nil:
		telemetry.AdmissionsTotal.WithLabelValues("admitted").Inc()
		l.logger.Debug().Str("window_id", windowID).Int("minutes", minutes).Msg("admitted")
		return nil
	case errors.As(err, &rejected):
		telemetry.AdmissionsTotal.WithLabelValues("rejected").Inc()
		telemetry.AddSpanAttributes(span, map[string]any{"shortfall": rejected.Shortfall})
		return rejected
	case errors.Is(err, ErrWindowNotFound):
		telemetry.RecordError(span, err)
		return err
	default:
		return l.failClosed(span, windowID, minutes, err)
	}
}

func (l *Ledger) admitOnce(ctx context.Context, windowID string, minutes int, insert InsertFunc) error {
	return l.inWindowTx(ctx, windowID, func(tx *gorm.DB, window *models.CapacityWindow, now time.Time) error {
		committed, err := committedMinutes(tx, windowID, now)
		if err != nil {
			return fmt.Errorf("sum committed minutes: %w", err)
		}

		free := available(window.CapacityMinutes, committed)
		if minutes > free {
			return &CapacityRejectedError{
				WindowID:  windowID,
				Requested: minutes,
				Available: free,
				Shortfall: minutes - free,
			}
		}

		if insert != nil {
			if err := insert(tx, now); err != nil {
				return fmt.Errorf("insert admitted reservation: %w", err)
			}
		}
		return nil
	})
}

// Serialize runs fn with the window held exactly as TryAdmit holds it, so any
// change to what the window has committed is ordered against admissions. now
// is read after the window is locked. fn may run more than once if another
// node bumps the window version first, so it must not keep side effects
// outside tx. Errors from fn are returned as is.
func (l *Ledger) Serialize(ctx context.Context, windowID string, fn InsertFunc) error {
	ctx, span := telemetry.StartSpan(ctx, "ledger", "Serialize")
	defer span.End()

	release, err := l.locks.acquire(ctx, windowID)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("acquire window lock %s: %w", windowID, err)
	}
	defer release()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.inWindowTx(ctx, windowID, func(tx *gorm.DB, _ *models.CapacityWindow, now time.Time) error {
			return fn(tx, now)
		})
		if !errors.Is(err, errVersionConflict) {
			break
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// inWindowTx locks the window row, runs fn and bumps the window version in one
// transaction.
func (l *Ledger) inWindowTx(ctx context.Context, windowID string, fn func(tx *gorm.DB, window *models.CapacityWindow, now time.Time) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var window models.CapacityWindow
		q := tx
		if supportsRowLocks(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&window, "id = ?", windowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWindowNotFound
			}
			return fmt.Errorf("lock window: %w", err)
		}

		if err := fn(tx, &window, l.now()); err != nil {
			return err
		}

		res := tx.Model(&models.CapacityWindow{}).
			Where("id = ? AND version = ?", window.ID, window.Version).
			Update("version", gorm.Expr("version + 1"))
		if res.Error != nil {
			return fmt.Errorf("bump window version: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		return nil
	})
}

// failClosed converts an infrastructure failure into a rejection. The best
// known availability is unknown at this point, so the whole request counts as
// shortfall.
func (l *Ledger) failClosed(span trace.Span, windowID string, minutes int, cause error) error {
	telemetry.AdmissionsTotal.WithLabelValues("failed").Inc()
	telemetry.RecordError(span, cause)
	l.logger.Warn().Err(cause).Str("window_id", windowID).Int("minutes", minutes).Msg("admission failed closed")
	return &CapacityRejectedError{
		WindowID:  windowID,
		Requested: minutes,
		Available: 0,
		Shortfall: minutes,
		Cause:     cause,
	}
}

func committedMinutes(tx *gorm.DB, windowID string, now time.Time) (int, error) {
	var rows []models.Reservation
	err := tx.Model(&models.Reservation{}).
		Select("estimated_minutes", "status", "expires_at").
		Where("window_id = ? AND status IN ?", windowID,
			[]models.ReservationStatus{models.ReservationTentative, models.ReservationConfirmed}).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range rows {
		if r.ActiveAt(now) {
			total += r.EstimatedMinutes
		}
	}
	return total, nil
}

func available(capacity, committed int) int {
	if free := capacity - committed; free > 0 {
		return free
	}
	return 0
}

func supportsRowLocks(tx *gorm.DB) bool {
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return true
	}
	return false
}
