// Package handlers – error codes.
//
// Stable, snake_case codes returned in the "code" field of error responses.
// Clients branch on these rather than on messages.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeListFailed       = "list_failed"

	// Relay execution failures, by origin.
	ErrCodeConfiguration = "configuration_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeUpstream      = "upstream_error"

	// Idempotency-Key claimed by a request that has not finished.
	ErrCodeIdempotencyInProgress = "idempotency_in_progress"
)
