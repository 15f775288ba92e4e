package database

import (
	"fmt"
	"testing"
	"time"

	"shrike/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.BlacklistEntry{},
		&domain.CollectionRun{},
		&domain.AuthAttempt{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	DB = db

	t.Cleanup(func() {
		DB = nil
	})

	return db
}

func testEntry(ip string, source domain.Source, detected time.Time) domain.BlacklistEntry {
	return domain.BlacklistEntry{
		IP:             ip,
		Source:         source,
		DetectionDate:  detected,
		ExpirationDate: detected.Add(90 * 24 * time.Hour),
		ThreatType:     "malware",
		CountryCode:    "KR",
		Confidence:     80,
	}
}
