/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// OrderStatus tracks a dose order after acceptance.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderDispatched OrderStatus = "dispatched"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// Order is an accepted dose request. Schedules are recomputed from these
// inputs rather than stored.
type Order struct {
	ID                string      `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID         string      `gorm:"type:uuid;index" json:"product_id"`
	CustomerID        string      `gorm:"type:uuid;index" json:"customer_id"`
	ReservationID     *string     `gorm:"type:uuid;index" json:"reservation_id,omitempty"`
	DeliveryDate      string      `gorm:"type:varchar(10);index" json:"delivery_date"`
	DeliveryTime      time.Time   `json:"delivery_time"`
	TargetTime        *time.Time  `json:"target_time,omitempty"`
	RequestedActivity float64     `json:"requested_activity"`
	ActivityUnit      string      `gorm:"type:varchar(8)" json:"activity_unit"`
	Status            OrderStatus `gorm:"type:varchar(16);index" json:"status"`
	CreatedBy         string      `gorm:"type:varchar(128)" json:"created_by,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Order) TableName() string {
	return "orders"
}

// Dispatch records a physical shipment of a calibrated batch.
type Dispatch struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID         string     `gorm:"type:uuid;uniqueIndex" json:"order_id"`
	BatchActivity   float64    `json:"batch_activity"`
	CalibrationTime time.Time  `json:"calibration_time"`
	DepartedAt      time.Time  `json:"departed_at"`
	ArrivedAt       *time.Time `json:"arrived_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Dispatch) TableName() string {
	return "dispatches"
}
