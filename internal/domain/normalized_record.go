package domain

import "time"

// NormalizedRecord is the common shape every collector produces regardless
// of the source's wire format. It is a transfer value, not a stored row.
type NormalizedRecord struct {
	IP            string
	DetectionDate time.Time
	ThreatType    string
	CountryCode   string
	Confidence    uint8
	Extra         map[string]string
}
