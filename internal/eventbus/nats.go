/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/telemetry"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements a NATS-backed event bus. Like RedisBus it keeps an
// in-memory bus for local delivery and relays remote events into it.
type NATSBus struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu   sync.Mutex
	subs map[events.EventType]*nats.Subscription
}

// NewNATSBus connects to NATS. Falls back to in-memory delivery if the
// server cannot be reached.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()

	nb := &NATSBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		subs:     make(map[events.EventType]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name("curie-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS connection failed, using in-memory fallback")
		return nb
	}

	nb.conn = conn
	logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event bus initialized")
	return nb
}

// Connected reports whether a NATS connection is in use.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.fallback.SubscribeBuffered(eventType, 100)
	if nb.conn == nil {
		return sub
	}

	nb.mu.Lock()
	defer nb.mu.Unlock()

	if _, exists := nb.subs[eventType]; exists {
		return sub
	}
	remote, err := nb.conn.Subscribe(subjectFor(eventType), func(m *nats.Msg) {
		deliverRemote(nb.fallback, nb.nodeID, m.Data, nb.logger)
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
		telemetry.EventBusErrorsTotal.WithLabelValues("nats", "subscribe").Inc()
		return sub
	}
	nb.subs[eventType] = remote
	return sub
}

// Publish sends an event to local subscribers and to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.fallback.Publish(eventType, payload)

	if nb.conn == nil {
		telemetry.EventBusPublishedTotal.WithLabelValues("memory", string(eventType)).Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal event")
		telemetry.EventBusErrorsTotal.WithLabelValues("nats", "marshal").Inc()
		return
	}
	if err := nb.conn.Publish(subjectFor(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
		telemetry.EventBusErrorsTotal.WithLabelValues("nats", "publish").Inc()
		return
	}
	telemetry.EventBusPublishedTotal.WithLabelValues("nats", string(eventType)).Inc()
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.fallback.Unsubscribe(eventType, sub)
}

// Close drains subscriptions and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}

	nb.mu.Lock()
	for eventType, sub := range nb.subs {
		if err := sub.Unsubscribe(); err != nil {
			nb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("NATS unsubscribe failed")
		}
	}
	nb.subs = make(map[events.EventType]*nats.Subscription)
	nb.mu.Unlock()

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	nb.logger.Info().Msg("NATS event bus closed")
	return nil
}
