// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to replay side-effecting relay actions on retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, action, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, action, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(action) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND key = ? AND expires_at > ?", userID, action, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores the response produced for (userID, action, key)
// and returns ErrDuplicate on unique violation.
//
// A row left over from an expired window is removed first so the key can be
// reused once its TTL has passed.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, action, key string, status int, response []byte, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Key:       key,
		Status:    status,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND action = ? AND key = ? AND expires_at <= ?", userID, action, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ClaimIdempotency inserts a pending record for (userID, action, key) ahead
// of running the action. A live record for the same tuple, pending or
// complete, yields ErrDuplicate.
func ClaimIdempotency(ctx context.Context, db *gorm.DB, userID, action, key string, ttl time.Duration) (*domain.Idempotency, error) {
	return CreateIdempotency(ctx, db, userID, action, key, domain.IdempotencyPending, nil, ttl)
}

// CompleteIdempotency stores the response on a pending claim. ErrNotFound
// means no pending claim exists for the tuple.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, userID, action, key string, status int, response []byte) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("user_id = ? AND action = ? AND key = ? AND status = ?", userID, action, key, domain.IdempotencyPending).
		Updates(map[string]any{"status": status, "response": response})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency drops a pending claim so the key can be retried.
// Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, action, key string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND key = ? AND status = ?", userID, action, key, domain.IdempotencyPending).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes records whose window closed before now and
// returns how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation matches gorm's translated error as well as the plain-text
// errors glebarez/sqlite returns for UNIQUE violations.
func isUniqueViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
