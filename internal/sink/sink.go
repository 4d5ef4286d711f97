// Package sink defines the write contract shared by both storage
// destinations and the error taxonomy the retry layer keys on.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/restream-labs/eventpipe/internal/model"
)

// Sink is one of the two independent storage destinations. Write must be
// idempotent for a given event id: re-delivering the identical event
// overwrites rather than duplicating.
type Sink interface {
	// Name identifies the sink in logs and metrics ("analytical", "archive").
	Name() string

	// Write persists one routed event. Implementations classify failures
	// with Transient or Permanent so the retry layer can tell a timeout
	// from a schema rejection.
	Write(ctx context.Context, dec *model.RoutingDecision) error

	// Ping verifies connectivity, for readiness checks.
	Ping(ctx context.Context) error

	Close()
}

// TransientError marks a failure worth retrying: network faults, timeouts,
// throttling, broken connections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retries cannot fix, such as a schema
// mismatch or a rejected object key.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is classified as retryable.
// Unclassified errors count as transient.
func IsTransient(err error) bool {
	var perm *PermanentError
	return err != nil && !errors.As(err, &perm)
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
