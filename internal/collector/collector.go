// Package collector implements the per-source collection pipeline:
// authenticate against the source, fetch its raw export for a date window,
// and normalize it into common records. Each source owns its wire format
// behind the SourceCollector interface.
package collector

import (
	"context"
	"net/http"
	"time"

	"shrike/internal/domain"
)

// AttemptRecorder receives every authentication attempt, successful or not.
// The auth governor implements it.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, source domain.Source, success bool, reason string)
}

// Session is the authenticated state for a single run. Sessions are never
// reused across runs; the client carries source cookies where applicable.
type Session struct {
	Client    *http.Client
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the session can no longer be used.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// DateRange bounds a fetch by the source's own reported dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

type PayloadFormat string

const (
	FormatCSV  PayloadFormat = "csv"
	FormatHTML PayloadFormat = "html"
	FormatJSON PayloadFormat = "json"
)

type FetchMode string

const (
	ModeBulk      FetchMode = "bulk"
	ModePaginated FetchMode = "paginated"
)

// RawPayload is the unparsed source response. Mode records whether the
// primary bulk export or the paginated fallback produced it.
type RawPayload struct {
	Format PayloadFormat
	Mode   FetchMode
	Body   []byte
	Pages  int
}

// ParseStats counts parsed rows and row-level errors for run-status
// classification.
type ParseStats struct {
	Parsed int
	Errors int
}

type SourceCollector interface {
	Source() domain.Source
	Authenticate(ctx context.Context) (*Session, error)
	Fetch(ctx context.Context, session *Session, window DateRange) (*RawPayload, error)
	Parse(payload *RawPayload) ([]domain.NormalizedRecord, ParseStats, error)
}

// StatusFor derives the run status from parse stats: at least one record and
// an error rate under 50% is a success; some records with a higher error
// rate is a partial failure; no records is a failure.
func StatusFor(stats ParseStats) domain.RunStatus {
	if stats.Parsed == 0 {
		return domain.RunStatusFailure
	}
	total := stats.Parsed + stats.Errors
	if stats.Errors*2 >= total {
		return domain.RunStatusPartialFailure
	}
	return domain.RunStatusSuccess
}
