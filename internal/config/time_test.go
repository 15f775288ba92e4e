package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfPeriod(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfPeriod(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfPeriod returned %d, want %d", got, want)
	}
}

func TestCalculateBetweenTime(t *testing.T) {
	t.Run("enforces minimum interval", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{}); got != time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{Minutes: 1, Seconds: 30}); got != 90*time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1m30s", got)
		}
	})
}

func TestSetCollectionInterval(t *testing.T) {
	origCfg := GetConfig()
	origInterval := GetCollectionInterval()
	origListeners := collectionIntervalListeners

	t.Cleanup(func() {
		configValue.Store(origCfg)
		collectionInterval.Store(origInterval)
		collectionIntervalListeners = origListeners
	})

	testCfg := Config{}
	testCfg.Collection.CollectionTimer = Timer{Minutes: 30}
	configValue.Store(testCfg)

	SetCollectionInterval()

	if got := GetCollectionInterval(); got != 30*time.Minute {
		t.Fatalf("GetCollectionInterval returned %s, want 30m", got)
	}
}

func TestSetCollectionIntervalDefaultsWhenTimerZero(t *testing.T) {
	origCfg := GetConfig()
	origInterval := GetCollectionInterval()

	t.Cleanup(func() {
		configValue.Store(origCfg)
		collectionInterval.Store(origInterval)
	})

	configValue.Store(Config{})
	SetCollectionInterval()

	if got := GetCollectionInterval(); got != defaultCollectionInterval {
		t.Fatalf("GetCollectionInterval returned %s, want %s", got, defaultCollectionInterval)
	}
}

func TestStopCollectionIntervalUpdatesDeregisters(t *testing.T) {
	origInterval := GetCollectionInterval()
	origListeners := collectionIntervalListeners

	t.Cleanup(func() {
		collectionInterval.Store(origInterval)
		collectionIntervalListeners = origListeners
	})

	listenersMu.Lock()
	before := len(collectionIntervalListeners)
	listenersMu.Unlock()

	updates := CollectionIntervalUpdates()
	<-updates

	StopCollectionIntervalUpdates(updates)

	listenersMu.Lock()
	after := len(collectionIntervalListeners)
	listenersMu.Unlock()
	if after != before {
		t.Fatalf("listener count is %d after deregistration, want %d", after, before)
	}

	setCollectionInterval(17 * time.Minute)

	select {
	case got := <-updates:
		t.Fatalf("deregistered listener received %s", got)
	default:
	}
}

func TestCollectionIntervalUpdatesNotifiesListeners(t *testing.T) {
	origCfg := GetConfig()
	origInterval := GetCollectionInterval()
	origListeners := collectionIntervalListeners

	t.Cleanup(func() {
		configValue.Store(origCfg)
		collectionInterval.Store(origInterval)
		collectionIntervalListeners = origListeners
	})

	updates := CollectionIntervalUpdates()

	// The current interval is delivered immediately.
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("did not receive initial interval")
	}

	setCollectionInterval(42 * time.Minute)

	select {
	case got := <-updates:
		if got != 42*time.Minute {
			t.Fatalf("listener received %s, want 42m", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not receive interval update")
	}
}
