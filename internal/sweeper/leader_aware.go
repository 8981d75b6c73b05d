/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweeper

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Leadership is the part of leadership.Election the sweeper needs.
type Leadership interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware runs the sweeper only while this instance holds leadership.
type LeaderAware struct {
	sweeper  *Service
	election Leadership
	logger   zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	stopMonitor context.CancelFunc
	watchWG     sync.WaitGroup
}

// NewLeaderAware wraps a sweeper with leader election.
func NewLeaderAware(sweeper *Service, election Leadership, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		sweeper:  sweeper,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_sweeper").Logger(),
	}
}

// Start begins the election and follows leadership changes.
func (la *LeaderAware) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	la.mu.Lock()
	la.ctx = ctx
	la.stopMonitor = stop
	la.mu.Unlock()

	if err := la.election.Start(ctx); err != nil {
		stop()
		return err
	}

	la.watchWG.Add(1)
	go la.monitorLeadership(ctx)
	return nil
}

// Stop halts the sweeper and releases leadership.
func (la *LeaderAware) Stop() error {
	la.mu.Lock()
	stop := la.stopMonitor
	la.mu.Unlock()
	if stop != nil {
		stop()
	}
	la.watchWG.Wait()
	la.stopSweeper()
	return la.election.Stop()
}

// Running reports whether the sweep loop is active on this instance.
func (la *LeaderAware) Running() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.done != nil
}

func (la *LeaderAware) monitorLeadership(ctx context.Context) {
	defer la.watchWG.Done()

	if la.election.IsLeader() {
		la.startSweeper()
	}

	leaderCh := la.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			la.stopSweeper()
			return
		case isLeader, ok := <-leaderCh:
			if !ok {
				la.stopSweeper()
				return
			}
			if isLeader {
				la.logger.Info().Msg("became leader, starting sweeper")
				la.startSweeper()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping sweeper")
				la.stopSweeper()
			}
		}
	}
}

func (la *LeaderAware) startSweeper() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.done != nil || la.ctx == nil {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	done := make(chan struct{})
	la.cancel = cancel
	la.done = done

	go func() {
		defer close(done)
		if err := la.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("sweeper error")
		}
	}()
}

func (la *LeaderAware) stopSweeper() {
	la.mu.Lock()
	cancel, done := la.cancel, la.done
	la.cancel, la.done = nil, nil
	la.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
