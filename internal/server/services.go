/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/audit"
	"github.com/friendsincode/curie/internal/cache"
	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/config"
	"github.com/friendsincode/curie/internal/db"
	"github.com/friendsincode/curie/internal/dispatch"
	"github.com/friendsincode/curie/internal/eventbus"
	"github.com/friendsincode/curie/internal/export"
	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/orders"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/reservation"
	"github.com/friendsincode/curie/internal/storage"
)

// Services is the wired domain layer. The HTTP server and the one-shot CLI
// commands share it.
type Services struct {
	DB           *gorm.DB
	Cache        *cache.Cache
	Bus          eventbus.Bus
	Catalog      *catalog.Service
	Ledger       *ledger.Ledger
	Reservations *reservation.Service
	Planner      *planner.Planner
	Orders       *orders.Service
	Dispatch     *dispatch.Service
	Store        storage.ObjectStore
	Export       *export.Service
	Audit        *audit.Service

	closers []func() error
}

// NewServices connects storage backends, migrates the schema and builds every
// domain service.
func NewServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Services, error) {
	s := &Services{}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.deferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		c, err := cache.New(cacheCfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
			c = cache.Disabled(logger)
		}
		s.Cache = c
	} else {
		s.Cache = cache.Disabled(logger)
	}
	s.deferClose(s.Cache.Close)

	s.Bus = eventbus.New(cfg, logger)
	s.deferClose(s.Bus.Close)

	s.Catalog = catalog.NewService(database, s.Cache, s.Bus, logger)
	if cfg.CatalogPath != "" {
		seed, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			s.Close()
			return nil, err
		}
		products, customers, err := s.Catalog.Seed(ctx, seed)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		logger.Info().
			Str("path", cfg.CatalogPath).
			Int("products", products).
			Int("customers", customers).
			Msg("catalog seeded")
	}

	s.Ledger = ledger.New(database, logger)
	s.Reservations = reservation.NewService(database, s.Ledger, s.Bus, logger, reservation.WithHold(cfg.HoldDuration))
	s.Planner = planner.New(s.Catalog, logger)
	s.Orders = orders.NewService(database, s.Planner, s.Reservations, s.Bus, logger)
	s.Dispatch = dispatch.NewService(database, s.Orders, s.Catalog, logger)

	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize export store: %w", err)
	}
	s.Store = store
	s.Export = export.NewService(s.Orders, s.Ledger, s.Planner, store, logger)

	var sinks []audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("initialize kafka audit sink: %w", err)
		}
		s.deferClose(sink.Close)
		sinks = append(sinks, sink)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka audit sink enabled")
	}
	s.Audit = audit.NewService(database, s.Bus, logger, sinks...)

	return s, nil
}

// Close releases owned resources in reverse order.
func (s *Services) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Services) deferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
