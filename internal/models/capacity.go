/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// CapacityWindow is a fixed block of production minutes on a given date.
// Committed minutes are never stored here; they are derived from reservations.
type CapacityWindow struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	Date            string    `gorm:"type:varchar(10);index" json:"date"`
	Label           string    `gorm:"type:varchar(64)" json:"label,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	CapacityMinutes int       `gorm:"not null" json:"capacity_minutes"`

	// Version is bumped on every admission and confirmation and used as a
	// compare-and-swap stamp.
	Version int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CapacityWindow) TableName() string {
	return "capacity_windows"
}
