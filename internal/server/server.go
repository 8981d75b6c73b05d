/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/api"
	"github.com/friendsincode/curie/internal/auth"
	"github.com/friendsincode/curie/internal/config"
	"github.com/friendsincode/curie/internal/db"
	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/leadership"
	"github.com/friendsincode/curie/internal/sweeper"
	"github.com/friendsincode/curie/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	services    *Services
	api         *api.API
	sweeper     *sweeper.Service
	leaderAware *sweeper.LeaderAware

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(auth.Middleware([]byte(cfg.JWTSigningKey), "/healthz"))
	router.Use(telemetry.TracingMiddleware("curie-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Event streams are long-lived; everything else gets the request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WebSocket streams manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	services, err := NewServices(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.services = services
	s.DeferClose(services.Close)

	s.sweeper = sweeper.New(services.Reservations, s.cfg.SweepInterval, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		electionConfig.RedisAddr = s.cfg.RedisAddr
		electionConfig.RedisPassword = s.cfg.RedisPassword
		electionConfig.RedisDB = s.cfg.RedisDB
		electionConfig.InstanceID = s.cfg.InstanceID

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAware = sweeper.NewLeaderAware(s.sweeper, election, s.logger)
		s.DeferClose(s.leaderAware.Stop)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", s.cfg.InstanceID).
			Msg("leader election enabled for expiry sweeper")
	}

	s.api = api.New(api.Deps{
		Catalog:      services.Catalog,
		Planner:      services.Planner,
		Ledger:       services.Ledger,
		Reservations: services.Reservations,
		Orders:       services.Orders,
		Dispatch:     services.Dispatch,
		Export:       services.Export,
		Audit:        services.Audit,
		Bus:          services.Bus,
	}, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus listener, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Router exposes the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Sweeper runs everywhere in single instance mode, only on the leader
	// otherwise.
	if s.leaderAware != nil {
		if err := s.leaderAware.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware sweeper failed to start")
		}
	} else if s.sweeper != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("sweeper loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.services.DB)
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.services.Audit.Start(ctx)
	}()

	if s.services.Cache.IsAvailable() {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached catalog entries when any instance
// reports a change.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	bus := s.services.Bus
	cache := s.services.Cache

	productUpdated := bus.Subscribe(events.EventProductUpdated)
	customerUpdated := bus.Subscribe(events.EventCustomerUpdated)
	defer func() {
		bus.Unsubscribe(events.EventProductUpdated, productUpdated)
		bus.Unsubscribe(events.EventCustomerUpdated, customerUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-productUpdated:
			if id, ok := payload["product_id"].(string); ok {
				s.logger.Debug().Str("product_id", id).Msg("invalidating product cache")
				_ = cache.InvalidateProduct(ctx, id)
			}

		case payload := <-customerUpdated:
			if id, ok := payload["customer_id"].(string); ok {
				s.logger.Debug().Str("customer_id", id).Msg("invalidating customer cache")
				_ = cache.InvalidateCustomer(ctx, id)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.api.Routes(s.router)

	if s.leaderAware != nil {
		s.router.Get("/healthz/leader", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if s.leaderAware.Running() {
				_, _ = w.Write([]byte(`{"leader":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"leader":false}`))
		})
	}
}
