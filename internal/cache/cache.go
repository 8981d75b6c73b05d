/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for catalog lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultProductTTL  = 1 * time.Hour
	DefaultCustomerTTL = 30 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyPrefix   = "curie:cache:"
	KeyProduct  = keyPrefix + "product:"  // + product_id
	KeyCustomer = keyPrefix + "customer:" // + customer_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProductTTL  time.Duration
	CustomerTTL time.Duration

	// DisableOnError trips the breaker on the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ProductTTL:     DefaultProductTTL,
		CustomerTTL:    DefaultCustomerTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.ProductTTL == 0 {
		cfg.ProductTTL = DefaultProductTTL
	}
	if cfg.CustomerTTL == 0 {
		cfg.CustomerTTL = DefaultCustomerTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that always misses.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, kind, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		c.handleError(err, "get")
		telemetry.CacheMissesTotal.WithLabelValues(kind).Inc()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheMissesTotal.WithLabelValues(kind).Inc()
		return false
	}

	telemetry.CacheHitsTotal.WithLabelValues(kind).Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// GetProduct returns a cached product.
func (c *Cache) GetProduct(ctx context.Context, id string) (*models.Product, bool) {
	var p models.Product
	if !c.get(ctx, "product", KeyProduct+id, &p) {
		return nil, false
	}
	return &p, true
}

// SetProduct caches a product.
func (c *Cache) SetProduct(ctx context.Context, p *models.Product) error {
	return c.set(ctx, KeyProduct+p.ID, p, c.config.ProductTTL)
}

// InvalidateProduct drops a cached product.
func (c *Cache) InvalidateProduct(ctx context.Context, id string) error {
	return c.delete(ctx, KeyProduct+id)
}

// GetCustomer returns a cached customer.
func (c *Cache) GetCustomer(ctx context.Context, id string) (*models.Customer, bool) {
	var cust models.Customer
	if !c.get(ctx, "customer", KeyCustomer+id, &cust) {
		return nil, false
	}
	return &cust, true
}

// SetCustomer caches a customer.
func (c *Cache) SetCustomer(ctx context.Context, cust *models.Customer) error {
	return c.set(ctx, KeyCustomer+cust.ID, cust, c.config.CustomerTTL)
}

// InvalidateCustomer drops a cached customer.
func (c *Cache) InvalidateCustomer(ctx context.Context, id string) error {
	return c.delete(ctx, KeyCustomer+id)
}

// FlushAll removes every key under the cache prefix.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
