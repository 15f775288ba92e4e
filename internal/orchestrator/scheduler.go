package orchestrator

import (
	"context"
	"time"

	"shrike/internal/config"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
)

const collectionLeaderKey = "shrike:leader:collection"

// StartCollectionRoutine runs scheduled collection in the background until
// ctx is cancelled. When withLeaderLock is set, the loop only runs while this
// replica holds the Redis leadership lock; otherwise it runs unconditionally
// (single-replica and degraded-Redis deployments).
func (o *Orchestrator) StartCollectionRoutine(ctx context.Context, withLeaderLock bool) {
	go func() {
		if !withLeaderLock {
			o.runCollectionLoop(ctx)
			return
		}

		err := support.RunWithLeader(ctx, collectionLeaderKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
			o.runCollectionLoop(leaderCtx)
		})
		if err != nil && ctx.Err() == nil {
			log.Error("Collection leadership loop ended", "error", err)
		}
	}()
}

// runCollectionLoop triggers a full run every collection interval and follows
// interval changes from settings updates without restarting.
func (o *Orchestrator) runCollectionLoop(ctx context.Context) {
	updates := config.CollectionIntervalUpdates()
	defer config.StopCollectionIntervalUpdates(updates)

	interval := <-updates
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Collection routine started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("Collection routine stopped")
			return
		case next := <-updates:
			if next == interval {
				continue
			}
			interval = next
			ticker.Reset(interval)
			log.Info("Collection interval updated", "interval", interval)
		case <-ticker.C:
			drainTicker(ticker)
			if _, err := o.TriggerRun(ctx, TargetAll); err != nil {
				log.Error("Scheduled collection failed", "error", err)
			}
		}
	}
}

// drainTicker discards a tick that queued while the previous run was still
// in flight.
func drainTicker(ticker *time.Ticker) {
	select {
	case <-ticker.C:
	default:
	}
}
