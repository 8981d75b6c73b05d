/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return New(gdb, zerolog.Nop()), mock
}

func TestTryAdmitRowLockFailureIsRejection(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "capacity_windows" .*FOR UPDATE`).
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	err := l.TryAdmit(context.Background(), "w-1", 30, func(*gorm.DB, time.Time) error {
		t.Fatal("insert must not run when the window lock fails")
		return nil
	})

	var rejected *CapacityRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 0, rejected.Available)
	assert.Equal(t, 30, rejected.Shortfall)
	assert.NotNil(t, rejected.Cause)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAdmitCommitFailureIsRejection(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "capacity_windows"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "capacity_minutes", "version"}).AddRow("w-1", 120, 3))
	mock.ExpectQuery(`FROM "reservations"`).
		WillReturnRows(sqlmock.NewRows([]string{"estimated_minutes", "status", "expires_at"}))
	mock.ExpectExec(`UPDATE "capacity_windows" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset by peer"))

	err := l.TryAdmit(context.Background(), "w-1", 30, func(*gorm.DB, time.Time) error { return nil })

	var rejected *CapacityRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 30, rejected.Shortfall)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAdmitVersionConflictRetriesThenFailsClosed(t *testing.T) {
	l, mock := newMockLedger(t)

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM "capacity_windows"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "capacity_minutes", "version"}).AddRow("w-1", 120, i))
		mock.ExpectQuery(`FROM "reservations"`).
			WillReturnRows(sqlmock.NewRows([]string{"estimated_minutes", "status", "expires_at"}))
		mock.ExpectExec(`UPDATE "capacity_windows" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	inserts := 0
	err := l.TryAdmit(context.Background(), "w-1", 30, func(*gorm.DB, time.Time) error {
		inserts++
		return nil
	})

	var rejected *CapacityRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.ErrorIs(t, err, errVersionConflict)
	assert.Equal(t, 3, inserts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializeTakesRowLockAndBumpsVersion(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "capacity_windows" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "capacity_minutes", "version"}).AddRow("w-1", 120, 7))
	mock.ExpectExec(`UPDATE "capacity_windows" SET .*version \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := l.Serialize(context.Background(), "w-1", func(*gorm.DB, time.Time) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}
