/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/friendsincode/curie/internal/models"
)

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts defaults to 3.
	MaxAttempts  int
	WriteTimeout time.Duration
}

// KafkaSink streams audit entries to a Kafka topic, keyed by resource ID so
// one reservation's history stays on one partition.
type KafkaSink struct {
	writer      *kafka.Writer
	maxAttempts int
	backoff     time.Duration
}

// NewKafkaSink constructs a Kafka sink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaSink{writer: w, maxAttempts: cfg.MaxAttempts, backoff: 100 * time.Millisecond}, nil
}

// Name identifies the sink in metrics.
func (k *KafkaSink) Name() string { return "kafka" }

// Write produces one audit entry, retrying transient failures.
func (k *KafkaSink) Write(ctx context.Context, entry *models.AuditLog) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.ResourceID),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}

	var lastErr error
	backoff := k.backoff
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := k.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", k.maxAttempts, lastErr)
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
