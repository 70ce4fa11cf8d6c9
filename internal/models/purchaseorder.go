package models

import "time"

// PurchaseOrder is the slice of the purchasing record that the tracking
// workers read and mutate. Worker coordination happens through the lock
// fields; a lock is free when IsLocked is false or the lease has expired.
type PurchaseOrder struct {
	ID          int64  `json:"id" db:"id"`
	OrderNumber string `json:"order_number" db:"order_number"`

	TrackingNumber       string     `json:"tracking_number,omitempty" db:"tracking_number"`
	LatestDeliveryStatus string     `json:"latest_delivery_status,omitempty" db:"latest_delivery_status"`
	ShippedAt            *time.Time `json:"shipped_at,omitempty" db:"shipped_at"`
	LastInfoUpdatedAt    *time.Time `json:"last_info_updated_at,omitempty" db:"last_info_updated_at"`

	IsLocked       bool       `json:"is_locked" db:"is_locked"`
	LockedAt       *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	LockedByWorker string     `json:"locked_by_worker,omitempty" db:"locked_by_worker"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
