/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Product is a radiopharmaceutical with its decay and production parameters.
// Rows are treated as immutable inputs once orders reference them.
type Product struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	Code             string    `gorm:"type:varchar(32);uniqueIndex" json:"code"`
	Name             string    `gorm:"type:varchar(128)" json:"name"`
	Isotope          string    `gorm:"type:varchar(16)" json:"isotope"`
	HalfLifeMinutes  float64   `json:"half_life_minutes"`
	ShelfLifeMinutes int       `json:"shelf_life_minutes"`
	SynthesisMinutes int       `json:"synthesis_minutes"`
	QCMinutes        int       `gorm:"column:qc_minutes" json:"qc_minutes"`
	PackagingMinutes int       `json:"packaging_minutes"`
	OveragePercent   float64   `json:"overage_percent"`
	MinutesPerDose   int       `json:"minutes_per_dose"`
	ActivityUnit     string    `gorm:"type:varchar(8);default:mCi" json:"activity_unit"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Product) TableName() string {
	return "products"
}

// HalfLife returns the half-life as a duration.
func (p Product) HalfLife() time.Duration {
	return time.Duration(p.HalfLifeMinutes * float64(time.Minute))
}

// ShelfLife returns the shelf life as a duration.
func (p Product) ShelfLife() time.Duration {
	return time.Duration(p.ShelfLifeMinutes) * time.Minute
}

// Customer is a delivery destination.
type Customer struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	Code          string    `gorm:"type:varchar(32);uniqueIndex" json:"code"`
	Name          string    `gorm:"type:varchar(128)" json:"name"`
	Address       string    `gorm:"type:text" json:"address,omitempty"`
	TravelMinutes int       `json:"travel_minutes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Customer) TableName() string {
	return "customers"
}

// Travel returns the travel time as a duration.
func (c Customer) Travel() time.Duration {
	return time.Duration(c.TravelMinutes) * time.Minute
}
