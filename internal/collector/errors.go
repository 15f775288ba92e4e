package collector

import (
	"fmt"

	"shrike/internal/domain"
)

// AuthError means the source rejected authentication (bad credentials,
// source-side lockout, or network failure while logging in).
type AuthError struct {
	Source domain.Source
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failed: %s", e.Source, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError means the raw export could not be retrieved in either mode.
type FetchError struct {
	Source domain.Source
	Mode   FetchMode
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch (%s) failed: %v", e.Source, e.Mode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the payload as a whole was unusable. Row-level problems
// are counted in ParseStats instead, never raised.
type ParseError struct {
	Source domain.Source
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse failed: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
