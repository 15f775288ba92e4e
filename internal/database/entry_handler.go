package database

import (
	"context"
	"errors"
	"iter"
	"net"
	"time"

	"shrike/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	entryInsertBatchSize = 500
	entryReadBatchSize   = 1000
)

// UpsertEntries persists the given entries keyed on (ip, source). When a row
// already exists, the incoming entry wins only if its detection date is not
// older than the stored one (last-write-wins per source). Cross-source rows
// are never touched because the source is part of the conflict key.
func UpsertEntries(ctx context.Context, source domain.Source, entries []domain.BlacklistEntry) (int, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]domain.BlacklistEntry, 0, len(entries))
	for _, entry := range entries {
		entry.Source = source
		entry.IP = NormalizeIP(entry.IP)
		if entry.IP == "" || entry.DetectionDate.IsZero() {
			continue
		}
		records = append(records, entry)
	}
	if len(records) == 0 {
		return 0, nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}, {Name: "source"}},
		DoUpdates: clause.Assignments(map[string]any{
			"detection_date":  gorm.Expr("EXCLUDED.detection_date"),
			"expiration_date": gorm.Expr("EXCLUDED.expiration_date"),
			"threat_type":     gorm.Expr("EXCLUDED.threat_type"),
			"country_code":    gorm.Expr("EXCLUDED.country_code"),
			"confidence":      gorm.Expr("EXCLUDED.confidence"),
			"extra":           gorm.Expr("EXCLUDED.extra"),
			"updated_at":      gorm.Expr("EXCLUDED.updated_at"),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("EXCLUDED.detection_date >= blacklist_entries.detection_date"),
		}},
	}).CreateInBatches(&records, entryInsertBatchSize).Error
	if err != nil {
		return 0, err
	}

	return len(records), nil
}

// ActiveEntries yields entries whose expiration date lies after now, in ID
// order, reading the store in batches. The sequence is restartable: ranging
// over it again re-queries from the start.
func ActiveEntries(ctx context.Context, now time.Time) iter.Seq2[domain.BlacklistEntry, error] {
	return func(yield func(domain.BlacklistEntry, error) bool) {
		if DB == nil {
			yield(domain.BlacklistEntry{}, errors.New("database not initialised"))
			return
		}

		db := DB
		if ctx != nil {
			db = db.WithContext(ctx)
		}

		var lastID uint64
		for {
			var batch []domain.BlacklistEntry
			err := db.
				Where("id > ? AND expiration_date > ?", lastID, now).
				Order("id ASC").
				Limit(entryReadBatchSize).
				Find(&batch).Error
			if err != nil {
				yield(domain.BlacklistEntry{}, err)
				return
			}

			for _, entry := range batch {
				if !yield(entry, nil) {
					return
				}
				lastID = entry.ID
			}

			if len(batch) < entryReadBatchSize {
				return
			}
		}
	}
}

// EffectiveIPs returns the deduplicated set of active IPs across all
// sources, sorted, as served to downstream consumers.
func EffectiveIPs(ctx context.Context, now time.Time) ([]string, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var ips []string
	err := db.Model(&domain.BlacklistEntry{}).
		Where("expiration_date > ?", now).
		Distinct().
		Order("ip ASC").
		Pluck("ip", &ips).Error
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// EntriesForIP returns every per-source row for the given IP, active or not.
// This is the attributed "enhanced" lookup path.
func EntriesForIP(ctx context.Context, ip string) ([]domain.BlacklistEntry, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	normalized := NormalizeIP(ip)
	if normalized == "" {
		return nil, nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var entries []domain.BlacklistEntry
	if err := db.Where("ip = ?", normalized).Order("source ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// BlacklistStatistics is recomputed from the store on every call so it
// always reflects true state; nothing here is maintained incrementally.
type BlacklistStatistics struct {
	TotalBySource  map[domain.Source]int64
	ActiveBySource map[domain.Source]int64
	ExpiringSoon   int64
}

func ComputeStatistics(ctx context.Context, now time.Time, soonWindow time.Duration) (*BlacklistStatistics, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	stats := &BlacklistStatistics{
		TotalBySource:  make(map[domain.Source]int64),
		ActiveBySource: make(map[domain.Source]int64),
	}

	type sourceCount struct {
		Source domain.Source
		Count  int64
	}

	var totals []sourceCount
	if err := db.Model(&domain.BlacklistEntry{}).
		Select("source, COUNT(*) AS count").
		Group("source").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	for _, row := range totals {
		stats.TotalBySource[row.Source] = row.Count
	}

	var active []sourceCount
	if err := db.Model(&domain.BlacklistEntry{}).
		Select("source, COUNT(*) AS count").
		Where("expiration_date > ?", now).
		Group("source").
		Scan(&active).Error; err != nil {
		return nil, err
	}
	for _, row := range active {
		stats.ActiveBySource[row.Source] = row.Count
	}

	if err := db.Model(&domain.BlacklistEntry{}).
		Where("expiration_date > ? AND expiration_date <= ?", now, now.Add(soonWindow)).
		Count(&stats.ExpiringSoon).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// PurgeEntries physically deletes all entries for a source. This is the only
// deletion path; expiry never removes rows.
func PurgeEntries(ctx context.Context, source domain.Source) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	res := db.Where("source = ?", source).Delete(&domain.BlacklistEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// NormalizeIP canonicalizes an IPv4/IPv6 literal, returning "" when the
// input is not a valid address.
func NormalizeIP(raw string) string {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}
