package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"shrike/internal/domain"
)

// recorderStub collects RecordAttempt calls for assertions.
type recorderStub struct {
	mu       sync.Mutex
	attempts []bool
}

func (r *recorderStub) RecordAttempt(ctx context.Context, source domain.Source, success bool, reason string) {
	r.mu.Lock()
	r.attempts = append(r.attempts, success)
	r.mu.Unlock()
}

func (r *recorderStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name  string
		stats ParseStats
		want  domain.RunStatus
	}{
		{"no records", ParseStats{Parsed: 0, Errors: 0}, domain.RunStatusFailure},
		{"only errors", ParseStats{Parsed: 0, Errors: 10}, domain.RunStatusFailure},
		{"clean run", ParseStats{Parsed: 10, Errors: 0}, domain.RunStatusSuccess},
		{"under half errors", ParseStats{Parsed: 6, Errors: 4}, domain.RunStatusSuccess},
		{"exactly half errors", ParseStats{Parsed: 5, Errors: 5}, domain.RunStatusPartialFailure},
		{"mostly errors", ParseStats{Parsed: 1, Errors: 9}, domain.RunStatusPartialFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFor(tc.stats); got != tc.want {
				t.Fatalf("StatusFor(%+v) = %q, want %q", tc.stats, got, tc.want)
			}
		})
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()

	var nilSession *Session
	if !nilSession.Expired(now) {
		t.Fatal("nil session reported as valid")
	}

	open := &Session{}
	if open.Expired(now) {
		t.Fatal("session without expiry reported as expired")
	}

	past := &Session{ExpiresAt: now.Add(-time.Minute)}
	if !past.Expired(now) {
		t.Fatal("expired session reported as valid")
	}

	future := &Session{ExpiresAt: now.Add(time.Minute)}
	if future.Expired(now) {
		t.Fatal("valid session reported as expired")
	}
}
