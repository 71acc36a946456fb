// Package services – AuditService
//
// This file implements the AuditService, which records every executed relay
// call and serves the caller's call history. Rows are informational only;
// DoorDash remains the source of truth for delivery state.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/domain"
	"github.com/tbourn/go-delivery-relay/internal/utils"
)

// maxErrorMessageRunes bounds stored upstream error text.
const maxErrorMessageRunes = 1000

// RelayCallRepo defines the repository contract required by AuditService.
type RelayCallRepo interface {
	// CreateRelayCall inserts a call row.
	CreateRelayCall(ctx context.Context, db *gorm.DB, call *domain.RelayCall) (*domain.RelayCall, error)

	// GetRelayCall fetches a call by ID ensuring it belongs to the user.
	GetRelayCall(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RelayCall, error)

	// CountRelayCalls returns the total number of calls for pagination.
	CountRelayCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListRelayCallsPage returns a page of calls belonging to the user.
	ListRelayCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RelayCall, error)

	// RelayCallsStats returns the count and newest timestamp for ETags.
	RelayCallsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// AuditService records and lists relay calls.
type AuditService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the relay call repository used by this service.
	Repo RelayCallRepo
}

// NewAuditService constructs an AuditService.
func NewAuditService(db *gorm.DB, r RelayCallRepo) *AuditService {
	return &AuditService{DB: db, Repo: r}
}

// Record persists one executed call. Error messages are clipped so a large
// upstream body cannot bloat the table.
func (s *AuditService) Record(ctx context.Context, call *domain.RelayCall) error {
	ctx, span := otel.Tracer("services/AuditService").Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("relay.action", call.Action),
			attribute.Int("relay.status", call.Status),
		),
	)
	defer span.End()

	if strings.TrimSpace(call.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(call.Action) == "" {
		return ErrMissingAction
	}
	if r := []rune(call.ErrorMessage); len(r) > maxErrorMessageRunes {
		call.ErrorMessage = string(r[:maxErrorMessageRunes])
	}

	if _, err := s.Repo.CreateRelayCall(ctx, s.DB, call); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Get returns one call owned by userID.
func (s *AuditService) Get(ctx context.Context, userID, id string) (*domain.RelayCall, error) {
	ctx, span := otel.Tracer("services/AuditService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("relay.call_id", id)),
	)
	defer span.End()

	rc, err := s.Repo.GetRelayCall(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCallNotFound
	}
	return rc, err
}

// ListPage returns a page of calls for a user and the total count.
// It applies defaults for invalid page/pageSize.
func (s *AuditService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.RelayCall, int64, error) {
	ctx, span := otel.Tracer("services/AuditService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.PageOffset(page, pageSize)

	total, err := s.Repo.CountRelayCalls(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.RelayCall{}, 0, nil
	}

	items, err := s.Repo.ListRelayCallsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Stats returns the number of calls and the newest call time for userID.
func (s *AuditService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.RelayCallsStats(ctx, s.DB, userID)
}
