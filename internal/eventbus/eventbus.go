/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus provides distributed backends for the in-process event bus.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/config"
	"github.com/friendsincode/curie/internal/events"
)

const subjectPrefix = "curie.events."

// Bus is the contract shared by every backend.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// Memory wraps the in-process bus so it satisfies Bus.
type Memory struct {
	*events.Bus
}

// NewMemory returns an in-process bus.
func NewMemory() *Memory {
	return &Memory{Bus: events.NewBus()}
}

// Close is a no-op for the in-process bus.
func (m *Memory) Close() error { return nil }

// New selects a backend from configuration.
func New(cfg *config.Config, logger zerolog.Logger) Bus {
	nodeID := NodeID(cfg.InstanceID)

	switch cfg.EventBus {
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	default:
		return NewMemory()
	}
}

// NodeID returns a stable identifier for this process. A configured instance
// ID wins; otherwise hostname plus a random suffix.
func NodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "curie"
	}
	return host + "-" + uuid.NewString()[:8]
}

func subjectFor(eventType events.EventType) string {
	return subjectPrefix + string(eventType)
}

// message is the wire envelope for remote backends.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// deliverRemote republishes a remote event locally, skipping our own echoes.
func deliverRemote(local *events.Bus, nodeID string, data []byte, logger zerolog.Logger) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to unmarshal remote event")
		return
	}
	if msg.NodeID == nodeID {
		return
	}
	local.Publish(msg.EventType, msg.Payload)
}
