/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit records reservation and order lifecycle changes.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/telemetry"
)

// Source is the subscribe side of an event bus.
type Source interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Sink receives a copy of every stored audit entry.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry *models.AuditLog) error
}

var actions = map[events.EventType]models.AuditAction{
	events.EventReservationCreated:   models.AuditActionReservationCreate,
	events.EventReservationConfirmed: models.AuditActionReservationConfirm,
	events.EventReservationCancelled: models.AuditActionReservationCancel,
	events.EventReservationExpired:   models.AuditActionReservationExpire,
	events.EventReservationConverted: models.AuditActionReservationConvert,
	events.EventOrderPlaced:          models.AuditActionOrderPlace,
	events.EventOrderCancelled:       models.AuditActionOrderCancel,
	events.EventOrderDispatched:      models.AuditActionOrderDispatch,
	events.EventOrderDelivered:       models.AuditActionOrderDeliver,
	events.EventWindowCreated:        models.AuditActionWindowCreate,
}

// resource keys in lookup order; the first present key names the resource.
var resourceKeys = []struct {
	key  string
	kind string
}{
	{"order_id", "order"},
	{"reservation_id", "reservation"},
	{"window_id", "window"},
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    Source
	sinks  []Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus Source, logger zerolog.Logger, sinks ...Sink) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		sinks:  sinks,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type received struct {
	eventType events.EventType
	payload   events.Payload
}

// Start subscribes to lifecycle events and logs them until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	merged := make(chan received, 64)
	var wg sync.WaitGroup

	for _, eventType := range events.LifecycleEvents {
		sub := s.bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- received{eventType: eventType, payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}

	s.logger.Info().Int("events", len(events.LifecycleEvents)).Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info().Msg("audit service stopped")
			return
		case msg := <-merged:
			s.logAuditEntry(ctx, msg.eventType, msg.payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, eventType events.EventType, payload events.Payload) {
	action, ok := actions[eventType]
	if !ok {
		return
	}

	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}
	if actor, ok := payload["actor"].(string); ok {
		entry.Actor = actor
	}
	for _, rk := range resourceKeys {
		if id, ok := payload[rk.key].(string); ok && id != "" {
			entry.ResourceType = rk.kind
			entry.ResourceID = id
			break
		}
	}
	for k, v := range payload {
		if k == "actor" {
			continue
		}
		entry.Details[k] = v
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly and forwards it to every sink. Sink
// failures are logged and counted but never fail the call.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		telemetry.AuditWritesTotal.WithLabelValues("db", "error").Inc()
		return err
	}
	telemetry.AuditWritesTotal.WithLabelValues("db", "ok").Inc()

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			telemetry.AuditWritesTotal.WithLabelValues(sink.Name(), "error").Inc()
			s.logger.Warn().Err(err).Str("sink", sink.Name()).Str("id", entry.ID).Msg("audit sink write failed")
			continue
		}
		telemetry.AuditWritesTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")
	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	Actor      *string
	Action     *models.AuditAction
	ResourceID *string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit logs with filters, newest first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.Actor != nil {
		query = query.Where("actor = ?", *filters.Actor)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
