package source

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	// KindNotConfigured means the source has no credentials or targets.
	KindNotConfigured ErrorKind = "not_configured"

	// KindTimeout means the fetch exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindUpstream means the remote API or service reported a failure.
	KindUpstream ErrorKind = "upstream_error"

	// KindParse means the response could not be decoded.
	KindParse ErrorKind = "parse_error"

	// KindExecution means a subprocess could not be launched or exited non-zero.
	KindExecution ErrorKind = "execution_error"
)

// Sentinels for use with errors.Is. A *FetchError matches the sentinel of its kind.
var (
	ErrNotConfigured = errors.New("not configured")
	ErrTimeout       = errors.New("timeout")
	ErrUpstream      = errors.New("upstream error")
	ErrParse         = errors.New("parse error")
	ErrExecution     = errors.New("execution error")
)

var kindSentinels = map[ErrorKind]error{
	KindNotConfigured: ErrNotConfigured,
	KindTimeout:       ErrTimeout,
	KindUpstream:      ErrUpstream,
	KindParse:         ErrParse,
	KindExecution:     ErrExecution,
}

// FetchError is the only error shape a fetch outcome carries into a Snapshot.
//
// Kind and Detail are kept so the presentation layer can choose between
// "stale data with warning" and "empty state" without parsing strings.
type FetchError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`

	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *FetchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NotConfigured returns a KindNotConfigured error.
func NotConfigured(detail string) *FetchError {
	return &FetchError{Kind: KindNotConfigured, Detail: detail}
}

// Timeout returns a KindTimeout error wrapping cause.
func Timeout(cause error) *FetchError {
	fe := &FetchError{Kind: KindTimeout, Err: cause}
	if cause != nil {
		fe.Detail = cause.Error()
	}
	return fe
}

// Upstream returns a KindUpstream error.
func Upstream(detail string, cause error) *FetchError {
	return &FetchError{Kind: KindUpstream, Detail: detail, Err: cause}
}

// ParseFailure returns a KindParse error.
func ParseFailure(detail string, cause error) *FetchError {
	return &FetchError{Kind: KindParse, Detail: detail, Err: cause}
}

// Execution returns a KindExecution error.
func Execution(detail string, cause error) *FetchError {
	return &FetchError{Kind: KindExecution, Detail: detail, Err: cause}
}

// AsFetchError converts any error returned by a fetcher into a *FetchError.
//
// Typed errors pass through unchanged. Deadline and cancellation errors become
// KindTimeout; everything else is treated as an upstream failure. A nil error
// yields nil.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	if errors.Is(err, context.Canceled) {
		return &FetchError{Kind: KindTimeout, Detail: "cancelled", Err: err}
	}
	return Upstream(err.Error(), err)
}
