/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ReservationStatus is the lifecycle state of a capacity hold.
type ReservationStatus string

const (
	ReservationTentative ReservationStatus = "TENTATIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationConverted ReservationStatus = "CONVERTED"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationTentative: {ReservationConfirmed, ReservationExpired, ReservationCancelled},
	ReservationConfirmed: {ReservationConverted},
}

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationTentative, ReservationConfirmed, ReservationExpired, ReservationCancelled, ReservationConverted:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s ReservationStatus) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// ConsumesCapacity reports whether a reservation in this status counts against
// its window, ignoring expiry.
func (s ReservationStatus) ConsumesCapacity() bool {
	return s == ReservationTentative || s == ReservationConfirmed
}

// Reservation holds production minutes in a capacity window.
type Reservation struct {
	ID                string            `gorm:"type:uuid;primaryKey" json:"id"`
	WindowID          string            `gorm:"type:uuid;index:idx_reservation_window_status" json:"window_id"`
	RequestedDate     string            `gorm:"type:varchar(10)" json:"requested_date"`
	EstimatedMinutes  int               `gorm:"not null" json:"estimated_minutes"`
	Status            ReservationStatus `gorm:"type:varchar(16);index:idx_reservation_window_status" json:"status"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	ConvertedEntityID *string           `gorm:"type:uuid" json:"converted_entity_id,omitempty"`
	CreatedBy         string            `gorm:"type:varchar(128)" json:"created_by,omitempty"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	ClosedAt          *time.Time        `json:"closed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Reservation) TableName() string {
	return "reservations"
}

// ActiveAt reports whether the reservation counts against capacity at now.
// A TENTATIVE hold stops counting as soon as now passes ExpiresAt, whether or
// not its stored status has been swept yet.
func (r Reservation) ActiveAt(now time.Time) bool {
	switch r.Status {
	case ReservationConfirmed:
		return true
	case ReservationTentative:
		return r.ExpiresAt == nil || !now.After(*r.ExpiresAt)
	}
	return false
}

// ExpiredAt reports whether a TENTATIVE hold has lapsed at now.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationTentative && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
