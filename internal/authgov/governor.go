// Package authgov enforces the per-source authentication circuit breaker.
// A source that keeps rejecting credentials gets blocked before it can pull
// the whole service into a retry or restart storm.
package authgov

import (
	"context"
	"sync"
	"time"

	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
)

const (
	defaultMaxAttempts = 10
	defaultWindow      = 24 * time.Hour
)

type Governor struct {
	mu           sync.Mutex
	blockedUntil map[domain.Source]time.Time

	// now is swappable for tests.
	now func() time.Time
}

func New() *Governor {
	return &Governor{
		blockedUntil: make(map[domain.Source]time.Time),
		now:          time.Now,
	}
}

// RecordAttempt appends an AuthAttempt and trips the breaker when the
// rolling failure count for the source crosses the configured threshold.
// Store failures are non-fatal but fail closed: the source gets blocked
// rather than allowed to retry unaccounted.
func (g *Governor) RecordAttempt(ctx context.Context, source domain.Source, success bool, reason string) {
	result := "success"
	if !success {
		result = "failure"
	}
	metrics.AuthAttempts.WithLabelValues(string(source), result).Inc()

	if err := database.RecordAuthAttempt(ctx, source, success, reason); err != nil {
		log.Error("Failed to persist auth attempt, blocking source", "source", source, "error", err)
		g.block(source)
		return
	}

	if success {
		return
	}

	cfg := config.GetConfig()
	maxAttempts := int64(cfg.Auth.MaxAttempts)
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	window := time.Duration(cfg.Auth.WindowHours) * time.Hour
	if window == 0 {
		window = defaultWindow
	}

	failures, err := database.CountAuthFailuresSince(ctx, source, g.now().Add(-window))
	if err != nil {
		log.Error("Failed to count auth failures, blocking source", "source", source, "error", err)
		g.block(source)
		return
	}

	if failures >= maxAttempts {
		g.block(source)
		log.Warn("Auth circuit breaker tripped",
			"source", source, "failures", failures, "window", window)
	}
}

// IsAllowed reports whether collection may run for the source. The global
// flags override every per-source state.
func (g *Governor) IsAllowed(source domain.Source) bool {
	cfg := config.GetConfig()
	if cfg.Collection.ForceDisable {
		return false
	}
	if !cfg.Collection.Enabled {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	until, blocked := g.blockedUntil[source]
	if !blocked {
		return true
	}
	if g.now().Before(until) {
		return false
	}
	// Cool-down elapsed.
	delete(g.blockedUntil, source)
	return true
}

// Reset clears the block for a source. Administrative override.
func (g *Governor) Reset(source domain.Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blockedUntil, source)
	log.Info("Auth block reset", "source", source)
}

func (g *Governor) block(source domain.Source) {
	until := g.cooldownUntil(g.now())
	g.mu.Lock()
	g.blockedUntil[source] = until
	g.mu.Unlock()
	log.Info("Source blocked", "source", source, "until", until)
}

// cooldownUntil is the next UTC calendar day unless a fixed cool-down is
// configured.
func (g *Governor) cooldownUntil(now time.Time) time.Time {
	cfg := config.GetConfig()
	if hours := cfg.Auth.CooldownHours; hours > 0 {
		return now.Add(time.Duration(hours) * time.Hour)
	}
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
