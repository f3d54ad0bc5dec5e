package types

import (
	"errors"
	"fmt"
)

// ConnectivityError covers transport failures and timeouts. The call may
// or may not have reached the venue; callers treat it as not-applied and
// retry-eligible.
type ConnectivityError struct {
	Venue VenueID
	Op    string
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity failure on %s during %s: %v", e.Venue, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// AuthenticationError means the venue rejected our credentials. Terminal
// until the credentials are rotated externally.
type AuthenticationError struct {
	Venue VenueID
	Op    string
	Err   error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication rejected by %s during %s: %v", e.Venue, e.Op, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitedError means the venue throttled the call. Retry-eligible
// after backoff.
type RateLimitedError struct {
	Venue VenueID
	Op    string
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s during %s: %v", e.Venue, e.Op, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// VenueRejectionError means the venue understood and refused this
// specific request. Terminal for the request.
type VenueRejectionError struct {
	Venue  VenueID
	Op     string
	Code   string
	Reason string
}

func (e *VenueRejectionError) Error() string {
	return fmt.Sprintf("venue %s rejected %s (code %s): %s", e.Venue, e.Op, e.Code, e.Reason)
}

// DataShapeError means a raw venue payload did not match the declared
// contract for its (venue, kind) pair. It reproduces deterministically,
// so it must never be blindly retried.
type DataShapeError struct {
	Venue  VenueID
	Kind   PayloadKind
	Field  string
	Reason string
}

func (e *DataShapeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("unrecognized %s payload from %s: field %q: %s", e.Kind, e.Venue, e.Field, e.Reason)
	}
	return fmt.Sprintf("unrecognized %s payload from %s: %s", e.Kind, e.Venue, e.Reason)
}

// LocalConsistencyError is a ledger mirror invariant violation. Never
// dropped silently.
type LocalConsistencyError struct {
	Entity string
	Key    string
	Reason string
}

func (e *LocalConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation on %s %s: %s", e.Entity, e.Key, e.Reason)
}

// Retryable reports whether the failure may succeed on a later attempt.
// Only connectivity and rate-limit failures qualify; authentication and
// venue rejections need external remediation, and shape errors reproduce
// deterministically.
func Retryable(err error) bool {
	var conn *ConnectivityError
	var rate *RateLimitedError
	return errors.As(err, &conn) || errors.As(err, &rate)
}
