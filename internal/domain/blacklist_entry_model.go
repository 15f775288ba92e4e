package domain

import "time"

// BlacklistEntry is the canonical unit of threat data. Entries are unique
// per (ip, source); the same IP reported by two sources stays as two rows
// and is deduplicated only in the effective view.
type BlacklistEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// IP holds the normalized IPv4/IPv6 literal (e.g. 192.0.2.1).
	IP string `gorm:"size:45;not null;uniqueIndex:idx_entries_ip_source,priority:1"`

	Source Source `gorm:"size:16;not null;uniqueIndex:idx_entries_ip_source,priority:2"`

	// DetectionDate comes from the source's own reported data, never from
	// request-time clocks.
	DetectionDate time.Time `gorm:"not null"`

	// ExpirationDate is DetectionDate plus the retention window. Expiry is
	// evaluated lazily at read time; rows are never swept.
	ExpirationDate time.Time `gorm:"not null;index"`

	ThreatType  string   `gorm:"size:128"`
	CountryCode string   `gorm:"size:2"`
	Confidence  uint8    `gorm:"not null;default:0"`
	Extra       ExtraMap `gorm:"type:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// IsActive reports whether the entry is still inside its retention window.
func (e BlacklistEntry) IsActive(now time.Time) bool {
	return now.Before(e.ExpirationDate)
}
