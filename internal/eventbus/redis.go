/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/telemetry"
)

// RedisBus implements a Redis-backed event bus for multi-instance deployments.
// Local subscribers always receive through the in-memory bus; Redis carries
// events to and from other nodes.
type RedisBus struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu       sync.RWMutex
	channels map[events.EventType]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	useFallback bool
	failCount   int
	maxFails    int
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// NewRedisBus creates a Redis-backed event bus.
// Falls back to in-memory delivery if Redis is unavailable.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "redis").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	rb := &RedisBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		maxFails: cfg.MaxFailures,
		channels: make(map[events.EventType]*redis.PubSub),
		ctx:      ctx,
		cancel:   cancel,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		_ = client.Close()
		rb.useFallback = true
		return rb
	}

	rb.client = client
	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bus initialized")
	return rb
}

// Subscribe registers a subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.fallback.SubscribeBuffered(eventType, 100)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.useFallback {
		return sub
	}
	if _, exists := rb.channels[eventType]; !exists {
		pubsub := rb.client.Subscribe(rb.ctx, subjectFor(eventType))
		rb.channels[eventType] = pubsub

		rb.wg.Add(1)
		go rb.receiveMessages(eventType, pubsub)
	}
	return sub
}

// receiveMessages relays remote events into the local bus.
func (rb *RedisBus) receiveMessages(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event_type", string(eventType)).Msg("Redis channel closed")
				return
			}
			deliverRemote(rb.fallback, rb.nodeID, []byte(msg.Payload), rb.logger)
		}
	}
}

// Publish sends an event to local subscribers and, when connected, to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.fallback.Publish(eventType, payload)

	rb.mu.RLock()
	useFallback := rb.useFallback
	rb.mu.RUnlock()
	if useFallback {
		telemetry.EventBusPublishedTotal.WithLabelValues("memory", string(eventType)).Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal event")
		telemetry.EventBusErrorsTotal.WithLabelValues("redis", "marshal").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, subjectFor(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		telemetry.EventBusErrorsTotal.WithLabelValues("redis", "publish").Inc()
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	telemetry.EventBusPublishedTotal.WithLabelValues("redis", string(eventType)).Inc()
}

// Unsubscribe removes a subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.fallback.Unsubscribe(eventType, sub)
}

// Close closes the Redis connection and all subscriptions.
func (rb *RedisBus) Close() error {
	rb.cancel()

	rb.mu.Lock()
	for _, pubsub := range rb.channels {
		_ = pubsub.Close()
	}
	rb.channels = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	rb.wg.Wait()

	if rb.client != nil {
		if err := rb.client.Close(); err != nil {
			return err
		}
	}
	rb.logger.Info().Msg("Redis event bus closed")
	return nil
}

// handleFailure trips to local-only delivery after repeated publish errors.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
	}
}
