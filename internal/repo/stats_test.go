package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-delivery-relay/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestRelayCallsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := RelayCallsStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing relay_calls table")
	}
}

func TestRelayCallsStats_Empty(t *testing.T) {
	db := newTestDB(t, &domain.RelayCall{})
	count, latest, err := RelayCallsStats(context.Background(), db, "nobody")
	if err != nil || count != 0 || latest != nil {
		t.Fatalf("want (0, nil, nil), got (%d, %v, %v)", count, latest, err)
	}
}

func TestRelayCallsStats_CountAndLatest(t *testing.T) {
	db := newTestDB(t, &domain.RelayCall{})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, uid := range []string{"u1", "u1", "u1", "u2"} {
		rc := &domain.RelayCall{UserID: uid, Action: "getDeliveryStatus", Status: 200, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if _, err := CreateRelayCall(context.Background(), db, rc); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	count, latest, err := RelayCallsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("RelayCallsStats: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d; want 3", count)
	}
	if latest == nil || !latest.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("latest = %v; want %v", latest, base.Add(2*time.Minute))
	}
}
