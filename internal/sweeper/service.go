/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sweeper periodically marks lapsed reservation holds as EXPIRED.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/telemetry"
)

// Expirer is implemented by the reservation service.
type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Service runs the expiry sweep on a ticker.
type Service struct {
	expirer  Expirer
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a sweeper. A non-positive interval defaults to one minute.
func New(expirer Expirer, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		expirer:  expirer,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	defer s.logger.Info().Msg("expiry sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "sweeper", "SweepExpired")
	defer span.End()

	start := time.Now()
	n, err := s.expirer.SweepExpired(ctx, s.now())
	telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	telemetry.SweepRunsTotal.Inc()
	if err != nil {
		telemetry.RecordError(span, err)
		return n, err
	}
	telemetry.SweepExpiredTotal.Add(float64(n))
	telemetry.AddSpanAttributes(span, map[string]any{"expired": n})
	return n, nil
}

func (s *Service) tick(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("expiry sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired tentative reservations")
	}
}
