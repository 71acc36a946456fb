// Package services defines the business logic around the relay's local
// records: the audit trail of executed calls and idempotent replays.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import "errors"

var (
	// ErrCallNotFound indicates that the requested relay call does not exist
	// or does not belong to the current user.
	ErrCallNotFound = errors.New("relay call not found")

	// ErrMissingUser is returned when a record is written without an owner.
	ErrMissingUser = errors.New("user id is required")

	// ErrMissingAction is returned when a record is written without an action.
	ErrMissingAction = errors.New("action is required")

	// ErrReplayConflict is returned when another request already claimed the
	// same idempotency key.
	ErrReplayConflict = errors.New("idempotency key already used")

	// ErrReplayInProgress is returned by a lookup that finds the key claimed
	// by a request whose action has not finished.
	ErrReplayInProgress = errors.New("idempotency key in progress")
)
