package database

import (
	"context"
	"errors"
	"time"

	"shrike/internal/domain"
)

// CreateRun opens a CollectionRun row in Running state.
func CreateRun(ctx context.Context, source domain.Source) (*domain.CollectionRun, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	run := &domain.CollectionRun{
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	if err := db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// FinalizeRun closes the run. Finalized runs are immutable; callers must not
// update them again.
func FinalizeRun(ctx context.Context, run *domain.CollectionRun, status domain.RunStatus, items, errorCount int, details domain.ExtraMap) error {
	if DB == nil {
		return errors.New("database not initialised")
	}
	if run == nil {
		return errors.New("nil collection run")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Status = status
	run.ItemsCollected = items
	run.ErrorCount = errorCount
	run.Details = details

	return db.Model(&domain.CollectionRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"completed_at":    run.CompletedAt,
			"status":          run.Status,
			"items_collected": run.ItemsCollected,
			"error_count":     run.ErrorCount,
			"details":         run.Details,
		}).Error
}

// RecordSkippedRun writes an already-finalized run for a source the governor
// refused, so skips show up in the audit trail like any other outcome.
func RecordSkippedRun(ctx context.Context, source domain.Source, reason string) (*domain.CollectionRun, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	now := time.Now().UTC()
	run := &domain.CollectionRun{
		Source:      source,
		StartedAt:   now,
		CompletedAt: &now,
		Status:      domain.RunStatusSkipped,
		Details:     domain.ExtraMap{"reason": reason},
	}
	if err := db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// RecentRuns returns the newest runs first, for the run-history feed.
func RecentRuns(ctx context.Context, limit int) ([]domain.CollectionRun, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var runs []domain.CollectionRun
	if err := db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
