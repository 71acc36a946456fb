package domain

import "time"

// IdempotencyPending is the Status of a claimed key whose action is still
// running.
const IdempotencyPending = 0

// Idempotency is the stored outcome of a side-effecting relay action, keyed
// by (user_id, action, key). A retried request with the same key receives
// Response verbatim instead of creating a second delivery. The row is
// inserted as a pending claim before the action runs and completed after.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_action_key,priority:1"`
	Action    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_action_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_action_key,priority:3"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Response  []byte    `gorm:"type:BLOB"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Expired reports whether the record is no longer replayable at now.
func (i Idempotency) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

// Pending reports whether the key is claimed but has no stored result yet.
func (i Idempotency) Pending() bool { return i.Status == IdempotencyPending }
