package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures crossing the pool/worker boundary.
type ErrorKind string

const (
	// KindProtocol marks a malformed wire line. The worker answers with an
	// error envelope and keeps reading.
	KindProtocol ErrorKind = "protocol"

	// KindExecution marks a failure raised by the user code itself. The
	// worker stays healthy.
	KindExecution ErrorKind = "execution"

	// KindTimeout marks a request that produced no response within its
	// deadline. The worker is killed and replaced; retryable.
	KindTimeout ErrorKind = "timeout"

	// KindWorkerCrash marks a worker subprocess that exited unexpectedly;
	// retryable.
	KindWorkerCrash ErrorKind = "worker_crash"

	// KindSessionCodec marks a session capture/restore failure. The
	// execution result is still returned, without a session update.
	KindSessionCodec ErrorKind = "session_codec"

	// KindStorage marks a persisted-storage failure, propagated verbatim
	// and never retried by the core.
	KindStorage ErrorKind = "storage"

	// KindPoolExhausted marks a dispatch that found no READY worker within
	// its wait bound; retryable.
	KindPoolExhausted ErrorKind = "pool_exhausted"

	// KindWarmingUp marks a dispatch issued before any worker reached
	// READY; retryable.
	KindWarmingUp ErrorKind = "warming_up"
)

// ExecError is a categorized error surfaced to callers.
type ExecError struct {
	Kind    ErrorKind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error { return e.Err }

// NewError creates an ExecError of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an ExecError wrapping a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is (or wraps) an ExecError, or an
// empty kind otherwise.
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may safely retry the request.
// Timeouts, crashes, pool exhaustion and warm-up are transient; everything
// else is not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindWorkerCrash, KindPoolExhausted, KindWarmingUp:
		return true
	}
	return false
}
