// Package domain defines the persistence models for the relay's local
// records. These types are mapped with GORM and form the data layer behind
// the call history and idempotent delivery creation.
//
// Nothing here is delivery state: DoorDash remains the source of truth for
// quotes and deliveries, and these rows only describe what the relay did.
package domain

import (
	"time"
)

// RelayCall is one executed relay action, written after the Drive API call
// returns (successfully or not).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RequestID: X-Request-ID of the inbound request, for log correlation.
//   - UserID: authenticated caller; indexed together with CreatedAt for history.
//   - Action: relay action name (getDeliveryQuote, createDelivery, ...).
//   - Status: HTTP status the relay answered with (200 or 500).
//   - ErrorCode / ErrorMessage: populated only for failed calls.
//   - ExternalDeliveryID: delivery the action referred to, when known.
//   - DurationMS: wall time of the upstream call in milliseconds.
//   - CreatedAt: managed by GORM.
type RelayCall struct {
	ID                 string    `json:"id"                             gorm:"type:char(36);primaryKey"`
	RequestID          string    `json:"request_id,omitempty"           gorm:"type:varchar(64)"`
	UserID             string    `json:"user_id"                        gorm:"type:varchar(64);not null;index:idx_user_calls,priority:1"`
	Action             string    `json:"action"                         gorm:"type:varchar(32);not null"`
	Status             int       `json:"status"                         gorm:"not null"`
	ErrorCode          string    `json:"error_code,omitempty"           gorm:"type:varchar(32)"`
	ErrorMessage       string    `json:"error_message,omitempty"        gorm:"type:text"`
	ExternalDeliveryID string    `json:"external_delivery_id,omitempty" gorm:"type:varchar(128);index"`
	DurationMS         int64     `json:"duration_ms"                    gorm:"not null;default:0"`
	CreatedAt          time.Time `json:"created_at"                     gorm:"index:idx_user_calls,priority:2"`
}

// TableName returns the database table name for RelayCall.
func (RelayCall) TableName() string { return "relay_calls" }

// Succeeded reports whether the relay answered the call with 2xx.
func (c RelayCall) Succeeded() bool { return c.Status >= 200 && c.Status < 300 }
