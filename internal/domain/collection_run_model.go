package domain

import "time"

// RunStatus classifies the outcome of one collection run.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "Success"
	RunStatusPartialFailure RunStatus = "PartialFailure"
	RunStatusFailure        RunStatus = "Failure"
	RunStatusSkipped        RunStatus = "Skipped"
	RunStatusRunning        RunStatus = "Running"
)

// CollectionRun records one execution of one source's collector. Rows are
// immutable once CompletedAt is set; they feed the audit trail and the
// auth governor's decisions.
type CollectionRun struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Source Source `gorm:"size:16;not null;index"`

	StartedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time `gorm:""`

	Status RunStatus `gorm:"size:24;not null"`

	ItemsCollected int `gorm:"not null;default:0"`
	ErrorCount     int `gorm:"not null;default:0"`

	Details ExtraMap `gorm:"type:json"`
}
