package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies engine failures into a closed set consumed
// exhaustively by callers.
type ErrorKind int

const (
	// KindNetwork covers connect failures, DNS errors and timeouts.
	KindNetwork ErrorKind = iota
	// KindHTTPStatus covers non-2xx responses from the remote API.
	KindHTTPStatus
	// KindCacheIO covers response-cache disk failures; the cache degrades
	// to pass-through for the affected operation.
	KindCacheIO
	// KindIntegrity covers byte count or checksum mismatches on a
	// downloaded file.
	KindIntegrity
	// KindConfig covers invalid configuration; fatal at startup.
	KindConfig
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindHTTPStatus:
		return "HTTPStatus"
	case KindCacheIO:
		return "CacheIO"
	case KindIntegrity:
		return "Integrity"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// ClientError is the engine's error type. Status is set for KindHTTPStatus,
// Op names the operation that failed, Err holds the wrapped cause.
type ClientError struct {
	Kind   ErrorKind
	Status int
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a single bounded retry is worthwhile.
// Network errors and 5xx/429 statuses qualify; everything else is terminal.
func (e *ClientError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTPStatus:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	case KindIntegrity:
		return true
	default:
		return false
	}
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(op string, err error) *ClientError {
	return &ClientError{Kind: KindNetwork, Op: op, Err: err}
}

// NewHTTPStatusError records a non-success response status.
func NewHTTPStatusError(op string, status int) *ClientError {
	return &ClientError{Kind: KindHTTPStatus, Op: op, Status: status}
}

// NewCacheIOError wraps a cache disk failure.
func NewCacheIOError(op string, err error) *ClientError {
	return &ClientError{Kind: KindCacheIO, Op: op, Err: err}
}

// NewIntegrityError records a size or checksum mismatch.
func NewIntegrityError(op string, err error) *ClientError {
	return &ClientError{Kind: KindIntegrity, Op: op, Err: err}
}

// NewConfigError records an invalid configuration value.
func NewConfigError(field string, err error) *ClientError {
	return &ClientError{Kind: KindConfig, Op: field, Err: err}
}

// IsRetryable reports whether err warrants the orchestrator's single retry.
func IsRetryable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassifyTransport maps a raw transport error onto the taxonomy.
// Context cancellation passes through untouched so callers can distinguish
// a user abort from a network fault.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return NewNetworkError(op, err)
}
