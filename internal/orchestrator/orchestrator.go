// Package orchestrator drives collection runs: it fans work out to the
// per-source collectors, contains their failures, and records every outcome
// as an auditable CollectionRun row.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shrike/internal/authgov"
	"shrike/internal/collector"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/metrics"
	"shrike/internal/reconcile"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	// TargetAll triggers a run across every registered source.
	TargetAll = "all"

	defaultWorkers    = 2
	defaultRunTimeout = 120 * time.Second
	defaultLookback   = 3
)

// RunOutcome is the per-source result of a triggered run.
type RunOutcome struct {
	Source   domain.Source    `json:"source"`
	Status   domain.RunStatus `json:"status"`
	Items    int              `json:"items"`
	Errors   int              `json:"errors"`
	Duration time.Duration    `json:"duration"`
	Detail   string           `json:"detail,omitempty"`
}

// RunSummary aggregates the outcomes of one trigger.
type RunSummary struct {
	StartedAt time.Time    `json:"started_at"`
	Outcomes  []RunOutcome `json:"outcomes"`
}

type Orchestrator struct {
	governor   *authgov.Governor
	engine     *reconcile.Engine
	collectors []collector.SourceCollector
}

func New(governor *authgov.Governor, engine *reconcile.Engine, collectors []collector.SourceCollector) *Orchestrator {
	return &Orchestrator{
		governor:   governor,
		engine:     engine,
		collectors: collectors,
	}
}

// TriggerRun collects from the targeted sources. Target is TargetAll or a
// single source name. Per-source failures never abort the trigger: each
// source runs to its own outcome and the summary carries them all.
func (o *Orchestrator) TriggerRun(ctx context.Context, target string) (*RunSummary, error) {
	selected, err := o.selectCollectors(target)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{StartedAt: time.Now().UTC()}

	workers := int(config.GetConfig().Collection.Workers)
	if workers <= 0 {
		workers = defaultWorkers
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, c := range selected {
		group.Go(func() error {
			outcome := o.runSource(groupCtx, c)
			mu.Lock()
			summary.Outcomes = append(summary.Outcomes, outcome)
			mu.Unlock()
			// Outcomes carry the failures; returning one would cancel
			// the sibling sources.
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}

	log.Info("Collection trigger finished", "target", target, "sources", len(summary.Outcomes))
	return summary, nil
}

func (o *Orchestrator) selectCollectors(target string) ([]collector.SourceCollector, error) {
	if len(o.collectors) == 0 {
		return nil, errors.New("no collectors registered")
	}
	if strings.EqualFold(target, TargetAll) || target == "" {
		return o.collectors, nil
	}

	want := domain.Source(strings.ToUpper(strings.TrimSpace(target)))
	for _, c := range o.collectors {
		if c.Source() == want {
			return []collector.SourceCollector{c}, nil
		}
	}
	return nil, fmt.Errorf("unknown collection source %q", target)
}

// runSource executes the full pipeline for one source. Panics in collector
// code are contained here and finalized as a failed run.
func (o *Orchestrator) runSource(ctx context.Context, c collector.SourceCollector) (outcome RunOutcome) {
	source := c.Source()
	outcome = RunOutcome{Source: source}

	if !o.governor.IsAllowed(source) {
		outcome.Status = domain.RunStatusSkipped
		outcome.Detail = "collection disallowed for source"
		if _, err := database.RecordSkippedRun(ctx, source, outcome.Detail); err != nil {
			log.Error("Failed to record skipped run", "source", source, "error", err)
		}
		metrics.CollectionRuns.WithLabelValues(string(source), string(domain.RunStatusSkipped)).Inc()
		log.Info("Run skipped", "source", source)
		return outcome
	}

	run, err := database.CreateRun(ctx, source)
	if err != nil {
		outcome.Status = domain.RunStatusFailure
		outcome.Detail = fmt.Sprintf("open run: %v", err)
		log.Error("Failed to open collection run", "source", source, "error", err)
		return outcome
	}

	timeout := time.Duration(config.GetConfig().Collection.RunTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	status := domain.RunStatusFailure
	var (
		stats  collector.ParseStats
		detail = domain.ExtraMap{}
	)

	defer func() {
		if r := recover(); r != nil {
			status = domain.RunStatusFailure
			detail["panic"] = fmt.Sprint(r)
			log.Error("Collector panicked", "source", source, "panic", r)
		}

		outcome.Status = status
		outcome.Items = stats.Parsed
		outcome.Errors = stats.Errors
		outcome.Duration = time.Since(started)
		if msg, found := detail["error"]; found {
			outcome.Detail = msg
		} else if msg, found := detail["panic"]; found {
			outcome.Detail = msg
		}

		// The audit row must be closed even when the trigger context was
		// cancelled mid-run; otherwise the run is stuck in Running forever.
		if err := database.FinalizeRun(context.WithoutCancel(ctx), run, status, stats.Parsed, stats.Errors, detail); err != nil {
			log.Error("Failed to finalize collection run", "source", source, "error", err)
		}

		metrics.CollectionRuns.WithLabelValues(string(source), string(status)).Inc()
		metrics.ItemsCollected.WithLabelValues(string(source)).Add(float64(stats.Parsed))
		metrics.RunDuration.WithLabelValues(string(source)).Observe(outcome.Duration.Seconds())

		log.Info("Run finished",
			"source", source,
			"status", status,
			"items", stats.Parsed,
			"errors", stats.Errors,
			"duration", outcome.Duration,
		)
	}()

	session, err := c.Authenticate(runCtx)
	if err != nil {
		detail["error"] = fmt.Sprintf("authenticate: %v", err)
		return outcome
	}

	payload, err := c.Fetch(runCtx, session, collectionWindow())
	if err != nil {
		detail["error"] = fmt.Sprintf("fetch: %v", err)
		return outcome
	}
	detail["fetch_mode"] = string(payload.Mode)
	detail["pages"] = fmt.Sprint(payload.Pages)

	records, parseStats, err := c.Parse(payload)
	stats = parseStats
	if err != nil {
		detail["error"] = fmt.Sprintf("parse: %v", err)
		return outcome
	}

	status = collector.StatusFor(stats)
	if len(records) == 0 {
		return outcome
	}

	merged, err := o.engine.Merge(runCtx, source, records)
	if err != nil {
		status = domain.RunStatusFailure
		detail["error"] = fmt.Sprintf("merge: %v", err)
		var storeErr *reconcile.StoreError
		if errors.As(err, &storeErr) {
			log.Error("Canonical store failed during merge", "source", source, "error", err)
		}
		return outcome
	}
	detail["upserted"] = fmt.Sprint(merged.Upserted)

	return outcome
}

// collectionWindow is the date range requested from each source: today back
// through the configured lookback.
func collectionWindow() collector.DateRange {
	days := int(config.GetConfig().Collection.LookbackDays)
	if days <= 0 {
		days = defaultLookback
	}
	now := time.Now().UTC()
	return collector.DateRange{
		From: now.AddDate(0, 0, -days),
		To:   now,
	}
}
