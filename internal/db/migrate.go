/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Product{},
		&models.Customer{},
		&models.CapacityWindow{},
		&models.Reservation{},
		&models.Order{},
		&models.Dispatch{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	if err := applyPostgresReservationGuards(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresReservationGuards adds CHECK constraints and a status
// transition trigger so that writes bypassing the service still respect the
// reservation lifecycle.
func applyPostgresReservationGuards(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_capacity_windows_minutes') THEN
    ALTER TABLE capacity_windows ADD CONSTRAINT chk_capacity_windows_minutes CHECK (capacity_minutes > 0);
  END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_reservations_minutes') THEN
    ALTER TABLE reservations ADD CONSTRAINT chk_reservations_minutes CHECK (estimated_minutes > 0);
  END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_reservations_status') THEN
    ALTER TABLE reservations ADD CONSTRAINT chk_reservations_status
      CHECK (status IN ('TENTATIVE', 'CONFIRMED', 'EXPIRED', 'CANCELLED', 'CONVERTED'));
  END IF;
END $$;

CREATE OR REPLACE FUNCTION enforce_reservation_transition()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.status = OLD.status THEN
    RETURN NEW;
  END IF;

  IF (OLD.status = 'TENTATIVE' AND NEW.status IN ('CONFIRMED', 'EXPIRED', 'CANCELLED'))
     OR (OLD.status = 'CONFIRMED' AND NEW.status = 'CONVERTED') THEN
    RETURN NEW;
  END IF;

  RAISE EXCEPTION 'invalid reservation transition % -> %', OLD.status, NEW.status
    USING ERRCODE = '23514';
END;
$$;

DROP TRIGGER IF EXISTS trg_enforce_reservation_transition ON reservations;

CREATE TRIGGER trg_enforce_reservation_transition
BEFORE UPDATE OF status
ON reservations
FOR EACH ROW
EXECUTE FUNCTION enforce_reservation_transition();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres reservation guards: %w", err)
	}

	return nil
}
