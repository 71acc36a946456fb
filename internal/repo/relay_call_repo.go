// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the RelayCall
// audit model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Functions:
//
//   - CreateRelayCall(ctx, db, call) -> *domain.RelayCall, error
//     Inserts a row, assigning a UUID and UTC timestamp when absent.
//
//   - CountRelayCalls(ctx, db, userID) -> (int64, error)
//     Returns the total number of calls made by the user.
//
//   - ListRelayCallsPage(ctx, db, userID, offset, limit) -> []domain.RelayCall, error
//     Returns a page of the user's calls, newest first.
//
//   - GetRelayCall(ctx, db, id, userID) -> *domain.RelayCall, error
//     Fetches a single call owned by userID, or ErrNotFound.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRelayCall inserts call. ID and CreatedAt are filled in when empty.
func CreateRelayCall(ctx context.Context, db *gorm.DB, call *domain.RelayCall) (*domain.RelayCall, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(call).Error; err != nil {
		return nil, err
	}
	return call, nil
}

// CountRelayCalls returns the total number of calls recorded for userID.
func CountRelayCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.RelayCall{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRelayCallsPage returns a page of calls for userID, newest first. Ties
// on created_at are broken by id so pages never overlap.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListRelayCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RelayCall, error) {
	var out []domain.RelayCall
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetRelayCall returns the call with id if it belongs to userID.
func GetRelayCall(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RelayCall, error) {
	var rc domain.RelayCall
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rc).Error
	if err != nil {
		return nil, err
	}
	return &rc, nil
}
