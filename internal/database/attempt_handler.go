package database

import (
	"context"
	"errors"
	"time"

	"shrike/internal/domain"
)

// RecordAuthAttempt appends one authentication attempt for a source.
func RecordAuthAttempt(ctx context.Context, source domain.Source, success bool, reason string) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	attempt := domain.AuthAttempt{
		Source:    source,
		Timestamp: time.Now().UTC(),
		Success:   success,
		Reason:    reason,
	}
	return db.Create(&attempt).Error
}

// CountAuthFailuresSince returns the number of failed attempts for a source
// after the given instant (the governor's rolling window).
func CountAuthFailuresSince(ctx context.Context, source domain.Source, since time.Time) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var count int64
	err := db.Model(&domain.AuthAttempt{}).
		Where("source = ? AND success = ? AND timestamp > ?", source, false, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
