/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage stores exported schedules on a filesystem or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/curie/internal/config"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// New returns the store selected by configuration.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ObjectStore, error) {
	if cfg.UsesS3() {
		store, err := NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("exports stored in S3")
		return store, nil
	}

	store, err := NewFilesystemStore(cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", cfg.ExportDir).Msg("exports stored on filesystem")
	return store, nil
}
