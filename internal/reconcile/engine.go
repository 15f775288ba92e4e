// Package reconcile maintains the canonical, deduplicated,
// expiration-aware blacklist and the read model derived from it.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"shrike/internal/cache"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/geolite"
	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
	"github.com/willf/bloom"
	"golang.org/x/sync/singleflight"
)

const (
	viewKeyPrefix    = "shrike:view:"
	effectiveViewKey = viewKeyPrefix + "effective"
	statisticsKey    = viewKeyPrefix + "statistics"

	defaultRetentionDays = 90
	defaultViewTTL       = 300 * time.Second
	defaultStatusTTL     = 30 * time.Second
	expiringSoonWindow   = 7 * 24 * time.Hour

	bloomMinCapacity   = 4096
	bloomFalsePositive = 0.001
)

// StoreError wraps canonical-store failures so callers can escalate them to
// a health-degraded signal, unlike contained per-source errors.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("canonical store: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

type Engine struct {
	cache *cache.TieredCache
	geo   *geolite.Resolver

	locksMu     sync.Mutex
	sourceLocks map[domain.Source]*sync.Mutex

	bloomVal  atomic.Value // *bloom.BloomFilter
	viewGroup singleflight.Group

	// generation counts committed merges and purges. Cached views carry the
	// generation they were computed under; a write from an older generation
	// is dropped instead of resurrecting pre-merge data past an invalidation.
	generation atomic.Uint64
}

type MergeResult struct {
	Source       domain.Source
	Received     int
	Deduplicated int
	Upserted     int
}

func New(tiered *cache.TieredCache, geo *geolite.Resolver) *Engine {
	return &Engine{
		cache:       tiered,
		geo:         geo,
		sourceLocks: make(map[domain.Source]*sync.Mutex),
	}
}

// Merge upserts the records for one source. Merges for the same source are
// serialized to keep last-write-wins deterministic; different sources touch
// disjoint (ip, source) key spaces and may merge concurrently. Re-merging
// the same records is a no-op beyond updated_at, so retried collectors are
// safe.
func (e *Engine) Merge(ctx context.Context, source domain.Source, records []domain.NormalizedRecord) (*MergeResult, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("reconcile: invalid source %q", source)
	}

	lock := e.lockFor(source)
	lock.Lock()
	defer lock.Unlock()

	result := &MergeResult{Source: source, Received: len(records)}

	entries := e.normalize(records)
	result.Deduplicated = len(entries)
	if len(entries) == 0 {
		return result, nil
	}

	upserted, err := database.UpsertEntries(ctx, source, entries)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	result.Upserted = upserted

	if err := e.rebuildBloom(ctx); err != nil {
		log.Warn("Failed to rebuild membership filter after merge", "source", source, "error", err)
	}
	e.refreshEntryGauges(ctx)

	// Synchronous with respect to the merge: a read issued after Merge
	// returns can never observe a pre-merge view. The generation bump must
	// precede the invalidation so in-flight readers cannot re-store a view
	// computed before this merge.
	e.generation.Add(1)
	e.cache.Invalidate(ctx, viewKeyPrefix)

	log.Info("Merge completed",
		"source", source,
		"received", result.Received,
		"deduplicated", result.Deduplicated,
		"upserted", result.Upserted,
	)
	return result, nil
}

// normalize validates records, keeps the newest detection date per IP and
// materializes expiration dates, backfilling missing country codes.
func (e *Engine) normalize(records []domain.NormalizedRecord) []domain.BlacklistEntry {
	retention := retentionWindow()

	newest := make(map[string]domain.NormalizedRecord, len(records))
	for _, record := range records {
		ip := database.NormalizeIP(record.IP)
		if ip == "" || record.DetectionDate.IsZero() {
			continue
		}
		record.IP = ip
		if existing, found := newest[ip]; found && existing.DetectionDate.After(record.DetectionDate) {
			continue
		}
		newest[ip] = record
	}

	entries := make([]domain.BlacklistEntry, 0, len(newest))
	for _, record := range newest {
		country := record.CountryCode
		if country == "" {
			country = e.geo.CountryCode(record.IP)
		}
		entries = append(entries, domain.BlacklistEntry{
			IP:             record.IP,
			DetectionDate:  record.DetectionDate,
			ExpirationDate: record.DetectionDate.Add(retention),
			ThreatType:     record.ThreatType,
			CountryCode:    country,
			Confidence:     record.Confidence,
			Extra:          domain.ExtraMap(record.Extra),
		})
	}
	return entries
}

// ActiveEntries yields the entries still inside their retention window.
// Expiry is evaluated against the clock at call time; there is no sweeper.
func (e *Engine) ActiveEntries(ctx context.Context) iter.Seq2[domain.BlacklistEntry, error] {
	return database.ActiveEntries(ctx, time.Now().UTC())
}

// EffectiveView returns the deduplicated set of active IPs across all
// sources, served through the tiered cache.
func (e *Engine) EffectiveView(ctx context.Context) ([]string, error) {
	if raw, found := e.cache.Get(ctx, effectiveViewKey); found {
		var ips []string
		if err := json.Unmarshal([]byte(raw), &ips); err == nil {
			return ips, nil
		}
		log.Warn("Discarding undecodable cached view")
	}

	result, err, _ := e.viewGroup.Do(effectiveViewKey, func() (interface{}, error) {
		generation := e.generation.Load()

		ips, err := database.EffectiveIPs(ctx, time.Now().UTC())
		if err != nil {
			return nil, &StoreError{Err: err}
		}

		if data, marshalErr := json.Marshal(ips); marshalErr == nil {
			e.cachePut(ctx, effectiveViewKey, string(data), viewTTL(), generation)
		}
		return ips, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Contains answers per-IP membership in the effective view. The bloom
// filter short-circuits definite negatives; positives are confirmed against
// the canonical store.
func (e *Engine) Contains(ctx context.Context, ip string) (bool, error) {
	normalized := database.NormalizeIP(ip)
	if normalized == "" {
		return false, nil
	}

	if filter, ok := e.bloomVal.Load().(*bloom.BloomFilter); ok && filter != nil {
		if !filter.Test([]byte(normalized)) {
			return false, nil
		}
	}

	entries, err := database.EntriesForIP(ctx, normalized)
	if err != nil {
		return false, &StoreError{Err: err}
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

// EntriesForIP is the attributed lookup path: every per-source row for the
// IP, active or expired.
func (e *Engine) EntriesForIP(ctx context.Context, ip string) ([]domain.BlacklistEntry, error) {
	entries, err := database.EntriesForIP(ctx, ip)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	return entries, nil
}

// Statistics recomputes store-wide counts on demand. The short status TTL
// only bounds recomputation rate; nothing is maintained incrementally.
func (e *Engine) Statistics(ctx context.Context) (*database.BlacklistStatistics, error) {
	if raw, found := e.cache.Get(ctx, statisticsKey); found {
		var stats database.BlacklistStatistics
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return &stats, nil
		}
	}

	generation := e.generation.Load()

	stats, err := database.ComputeStatistics(ctx, time.Now().UTC(), expiringSoonWindow)
	if err != nil {
		return nil, &StoreError{Err: err}
	}

	if data, err := json.Marshal(stats); err == nil {
		e.cachePut(ctx, statisticsKey, string(data), statusTTL(), generation)
	}
	return stats, nil
}

// Purge physically deletes all entries for a source (administrative only)
// and invalidates the read model.
func (e *Engine) Purge(ctx context.Context, source domain.Source) (int64, error) {
	lock := e.lockFor(source)
	lock.Lock()
	defer lock.Unlock()

	removed, err := database.PurgeEntries(ctx, source)
	if err != nil {
		return 0, &StoreError{Err: err}
	}

	if err := e.rebuildBloom(ctx); err != nil {
		log.Warn("Failed to rebuild membership filter after purge", "source", source, "error", err)
	}
	e.generation.Add(1)
	e.cache.Invalidate(ctx, viewKeyPrefix)

	log.Info("Entries purged", "source", source, "removed", removed)
	return removed, nil
}

// cachePut stores a computed view unless a merge or purge committed after
// the value was read from the store.
func (e *Engine) cachePut(ctx context.Context, key, value string, ttl time.Duration, generation uint64) {
	if e.generation.Load() != generation {
		return
	}
	e.cache.Set(ctx, key, value, ttl)
}

func (e *Engine) lockFor(source domain.Source) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, found := e.sourceLocks[source]
	if !found {
		lock = &sync.Mutex{}
		e.sourceLocks[source] = lock
	}
	return lock
}

func (e *Engine) rebuildBloom(ctx context.Context) error {
	ips, err := database.EffectiveIPs(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	capacity := uint(len(ips))
	if capacity < bloomMinCapacity {
		capacity = bloomMinCapacity
	}

	filter := bloom.NewWithEstimates(capacity, bloomFalsePositive)
	for _, ip := range ips {
		filter.Add([]byte(ip))
	}
	e.bloomVal.Store(filter)
	return nil
}

func (e *Engine) refreshEntryGauges(ctx context.Context) {
	stats, err := database.ComputeStatistics(ctx, time.Now().UTC(), expiringSoonWindow)
	if err != nil {
		log.Warn("Failed to refresh entry gauges", "error", err)
		return
	}
	for source, count := range stats.ActiveBySource {
		metrics.ActiveEntries.WithLabelValues(string(source)).Set(float64(count))
	}
}

func retentionWindow() time.Duration {
	days := config.GetConfig().Collection.RetentionDays
	if days == 0 {
		days = defaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func viewTTL() time.Duration {
	seconds := config.GetConfig().Cache.ViewTTLSeconds
	if seconds == 0 {
		return defaultViewTTL
	}
	return time.Duration(seconds) * time.Second
}

func statusTTL() time.Duration {
	seconds := config.GetConfig().Cache.StatusTTLSeconds
	if seconds == 0 {
		return defaultStatusTTL
	}
	return time.Duration(seconds) * time.Second
}
