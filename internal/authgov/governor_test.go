package authgov

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupGovernorTest(t *testing.T) *Governor {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.AuthAttempt{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	orig := config.GetConfig()
	t.Cleanup(func() {
		config.SetConfigForTests(orig)
	})

	cfg := config.Config{}
	cfg.Collection.Enabled = true
	cfg.Auth.MaxAttempts = 3
	cfg.Auth.WindowHours = 24
	config.SetConfigForTests(cfg)

	return New()
}

func TestGovernorTripsAfterRepeatedFailures(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
		if !g.IsAllowed(domain.SourceREGTECH) {
			t.Fatalf("source blocked after %d failures, threshold is 3", i+1)
		}
	}

	g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source still allowed after crossing the failure threshold")
	}
}

func TestGovernorSuccessesDoNotTrip(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, true, "")
	}
	if !g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source blocked by successful attempts")
	}
}

func TestGovernorBlockIsPerSource(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	}

	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("failing source not blocked")
	}
	if !g.IsAllowed(domain.SourceSECUDIUM) {
		t.Fatal("block leaked to an unrelated source")
	}
}

func TestGovernorBlockExpiresNextUTCDay(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	}
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source not blocked")
	}

	// Still the same calendar day.
	now = time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("block lifted before the next UTC day")
	}

	now = time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)
	if !g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("block not lifted on the next UTC day")
	}
}

func TestGovernorFixedCooldown(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	cfg := config.GetConfig()
	cfg.Auth.CooldownHours = 2
	config.SetConfigForTests(cfg)

	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	}
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source not blocked")
	}

	now = now.Add(90 * time.Minute)
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("block lifted before the cool-down elapsed")
	}

	now = now.Add(time.Hour)
	if !g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("block not lifted after the cool-down")
	}
}

func TestGovernorWindowExcludesOldFailures(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-25 * time.Hour)
	for i := 0; i < 5; i++ {
		attempt := domain.AuthAttempt{
			Source:    domain.SourceREGTECH,
			Timestamp: stale,
			Success:   false,
			Reason:    "credentials rejected",
		}
		if err := database.DB.Create(&attempt).Error; err != nil {
			t.Fatalf("seed stale attempt: %v", err)
		}
	}

	g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	if !g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("failures outside the rolling window tripped the breaker")
	}
}

func TestGovernorReset(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	}
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source not blocked")
	}

	g.Reset(domain.SourceREGTECH)
	if !g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("reset did not lift the block")
	}
}

func TestGovernorGlobalSwitches(t *testing.T) {
	g := setupGovernorTest(t)

	cfg := config.GetConfig()
	cfg.Collection.Enabled = false
	config.SetConfigForTests(cfg)
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("collection allowed while disabled")
	}

	cfg.Collection.Enabled = true
	cfg.Collection.ForceDisable = true
	config.SetConfigForTests(cfg)
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("collection allowed while force-disabled")
	}
}

func TestGovernorFailsClosedOnStoreError(t *testing.T) {
	g := setupGovernorTest(t)
	ctx := context.Background()

	// Simulate the attempt store going away mid-flight.
	database.DB = nil

	g.RecordAttempt(ctx, domain.SourceREGTECH, false, "credentials rejected")
	if g.IsAllowed(domain.SourceREGTECH) {
		t.Fatal("source allowed although the attempt could not be accounted")
	}
}
