package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultCollectionInterval = 24 * time.Hour

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

var (
	collectionInterval          atomic.Value
	collectionIntervalListeners []chan time.Duration
	listenersMu                 sync.Mutex
)

func init() {
	collectionInterval.Store(defaultCollectionInterval)
}

func SetCollectionInterval() {
	cfg := GetConfig()
	setCollectionInterval(calculateCollectionInterval(cfg))
}

func calculateCollectionInterval(cfg Config) time.Duration {
	timer := cfg.Collection.CollectionTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultCollectionInterval
	}
	return CalculateBetweenTime(timer)
}

// CalculateBetweenTime converts a Timer into a duration with a 1s floor.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetCollectionInterval() time.Duration {
	return collectionInterval.Load().(time.Duration)
}

// CollectionIntervalUpdates registers a listener channel that receives the
// current interval immediately and every change afterwards.
func CollectionIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	collectionIntervalListeners = append(collectionIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetCollectionInterval()
	return ch
}

// StopCollectionIntervalUpdates removes a listener registered with
// CollectionIntervalUpdates. Loops that can restart (leadership churn) must
// deregister on exit or listeners accumulate.
func StopCollectionIntervalUpdates(ch <-chan time.Duration) {
	listenersMu.Lock()
	defer listenersMu.Unlock()

	for i, listener := range collectionIntervalListeners {
		if (<-chan time.Duration)(listener) == ch {
			collectionIntervalListeners = append(collectionIntervalListeners[:i], collectionIntervalListeners[i+1:]...)
			return
		}
	}
}

func setCollectionInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCollectionInterval
	}

	current := GetCollectionInterval()
	if current == interval {
		return
	}

	collectionInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range collectionIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}
