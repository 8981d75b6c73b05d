/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/telemetry"
)

const (
	defaultElectionKey     = "curie:leader:sweeper"
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
	defaultRetryInterval   = 2 * time.Second
)

// releaseScript deletes the key only if this instance still owns it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Election manages distributed leader election using a Redis lease.
type Election struct {
	client     *redis.Client
	ownsClient bool
	logger     zerolog.Logger
	config     ElectionConfig
	instanceID string

	isLeader   atomic.Bool
	cancelFunc context.CancelFunc
	stopOnce   sync.Once
	stopCh     chan struct{}
	leaderCh   chan bool
}

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the current leader's instance id.
	ElectionKey string

	// LeaseDuration is how long the lease lives without renewal.
	LeaseDuration time.Duration

	// RetryInterval is how often every instance attempts to acquire or renew.
	RetryInterval time.Duration

	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:     "localhost:6379",
		ElectionKey:   defaultElectionKey,
		LeaseDuration: defaultLeaseDuration,
		RetryInterval: defaultRetryInterval,
		InstanceID:    uuid.New().String(),
	}
}

func (c *ElectionConfig) applyDefaults() {
	if c.ElectionKey == "" {
		c.ElectionKey = defaultElectionKey
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
}

// NewElection connects to Redis and creates an election manager.
func NewElection(config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	e := NewElectionWithClient(client, config, logger)
	e.ownsClient = true
	return e, nil
}

// NewElectionWithClient creates an election manager on an existing client.
// The client is not closed by Stop.
func NewElectionWithClient(client *redis.Client, config ElectionConfig, logger zerolog.Logger) *Election {
	config.applyDefaults()

	logger.Info().
		Str("election_key", config.ElectionKey).
		Str("instance_id", config.InstanceID).
		Msg("leader election configured")

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		config:     config,
		instanceID: config.InstanceID,
		stopCh:     make(chan struct{}),
		leaderCh:   make(chan bool, 1),
	}
}

// Start begins the leader election process.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease_duration", e.config.LeaseDuration).
		Msg("starting leader election")

	go e.campaignLoop(ctx)
	return nil
}

// Stop ends the campaign and releases leadership if held.
func (e *Election) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.logger.Info().Msg("stopping leader election")
		close(e.stopCh)
		if e.cancelFunc != nil {
			e.cancelFunc()
		}

		if e.isLeader.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if relErr := e.releaseLock(ctx); relErr != nil {
				e.logger.Error().Err(relErr).Msg("failed to release leadership lock")
			}
			e.updateLeadershipStatus(false)
		}

		if e.ownsClient {
			err = e.client.Close()
		}
	})
	return err
}

// IsLeader returns whether this instance is currently the leader.
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// LeaderCh returns a channel that receives leadership status changes.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the current leader instance ID, empty when nobody holds
// the lease.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	leaderID, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leaderID, nil
}

func (e *Election) campaignLoop(ctx context.Context) {
	e.attemptLeadership(ctx)

	ticker := time.NewTicker(e.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.attemptLeadership(ctx)
		}
	}
}

func (e *Election) attemptLeadership(ctx context.Context) {
	acquired, err := e.acquireLock(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("failed to acquire leadership lock")
		}
		e.updateLeadershipStatus(false)
		return
	}
	e.updateLeadershipStatus(acquired)
}

// acquireLock takes the lease with SET NX, or renews it when already held.
func (e *Election) acquireLock(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.ElectionKey, e.instanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		return true, nil
	}

	currentLeader, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get current leader: %w", err)
	}
	if currentLeader != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.config.ElectionKey, e.config.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return true, nil
}

func (e *Election) releaseLock(ctx context.Context) error {
	if err := e.client.Eval(ctx, releaseScript, []string{e.config.ElectionKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	e.logger.Info().Msg("released leadership lock")
	return nil
}

func (e *Election) updateLeadershipStatus(isLeader bool) {
	if e.isLeader.Swap(isLeader) == isLeader {
		return
	}

	if isLeader {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "lost").Inc()
	}

	// Drop a stale pending value so the latest status is what readers see.
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
