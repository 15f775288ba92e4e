package domain

import "time"

// AuthAttempt records one authentication try against a source. Attempts are
// never deleted here; rotation happens outside the engine.
type AuthAttempt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Source    Source    `gorm:"size:16;not null;index:idx_auth_attempts_source_ts,priority:1"`
	Timestamp time.Time `gorm:"not null;index:idx_auth_attempts_source_ts,priority:2"`
	Success   bool      `gorm:"not null"`
	Reason    string    `gorm:"size:512"`
}
