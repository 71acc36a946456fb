// Package services – IdempotencyService
//
// IdempotencyService stores the response of a side-effecting relay action
// under the caller's Idempotency-Key and returns it for retries within the
// configured TTL.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/repo"
)

// IdempotencyService persists replayable responses.
type IdempotencyService struct {
	DB  *gorm.DB
	TTL time.Duration

	now func() time.Time
}

// NewIdempotencyService constructs an IdempotencyService; ttl <= 0 means 24h.
func NewIdempotencyService(db *gorm.DB, ttl time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyService{DB: db, TTL: ttl, now: time.Now}
}

// Lookup returns the stored status and body for (userID, action, key).
// found is false when nothing replayable exists; a claim whose action is
// still running yields ErrReplayInProgress.
func (s *IdempotencyService) Lookup(ctx context.Context, userID, action, key string) (status int, body []byte, found bool, err error) {
	ctx, span := otel.Tracer("services/IdempotencyService").Start(ctx, "Lookup",
		trace.WithAttributes(attribute.String("relay.action", action)),
	)
	defer span.End()

	rec, err := repo.GetIdempotency(ctx, s.DB, userID, action, key, s.now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if rec.Pending() {
		span.SetAttributes(attribute.Bool("relay.pending", true))
		return 0, nil, false, ErrReplayInProgress
	}
	span.SetAttributes(attribute.Bool("relay.replay", true))
	return rec.Status, rec.Response, true, nil
}

// Claim reserves the key before the action runs. A key already claimed or
// completed within the TTL yields ErrReplayConflict.
func (s *IdempotencyService) Claim(ctx context.Context, userID, action, key string) error {
	ctx, span := otel.Tracer("services/IdempotencyService").Start(ctx, "Claim",
		trace.WithAttributes(attribute.String("relay.action", action)),
	)
	defer span.End()

	_, err := repo.ClaimIdempotency(ctx, s.DB, userID, action, key, s.TTL)
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrReplayConflict
	}
	return err
}

// Complete stores the response on the caller's claim.
func (s *IdempotencyService) Complete(ctx context.Context, userID, action, key string, status int, body []byte) error {
	ctx, span := otel.Tracer("services/IdempotencyService").Start(ctx, "Complete",
		trace.WithAttributes(attribute.String("relay.action", action)),
	)
	defer span.End()

	return repo.CompleteIdempotency(ctx, s.DB, userID, action, key, status, body)
}

// Release drops the caller's claim after a failed action.
func (s *IdempotencyService) Release(ctx context.Context, userID, action, key string) error {
	return repo.ReleaseIdempotency(ctx, s.DB, userID, action, key)
}

// Purge removes expired records.
func (s *IdempotencyService) Purge(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, s.now().UTC())
}
