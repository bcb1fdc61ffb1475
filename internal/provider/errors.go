package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies provider failures.
type Kind string

const (
	// KindNotFound means the principal was never registered with the provider.
	KindNotFound Kind = "not_found"
	// KindPermissionDenied means the adapter credentials are insufficient.
	KindPermissionDenied Kind = "permission_denied"
	// KindConflict means the binding already exists.
	KindConflict Kind = "conflict"
	// KindTransient covers timeouts, 5xx and rate limiting.
	KindTransient Kind = "transient"
	// KindUnknown is anything not classified above.
	KindUnknown Kind = "unknown"
)

// Sentinels usable with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrTransient        = &Error{Kind: KindTransient}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

// Error is a classified provider failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "provider"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use the package sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Retryable reports whether the kind may succeed on another attempt.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindUnknown
}

// NewError builds a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps any error to a Kind. Deadline and network timeouts are transient.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

// classifyStatus maps an HTTP status code returned by the provider.
func classifyStatus(op string, status int, body string) error {
	var kind Kind
	switch {
	case status == 404:
		kind = KindNotFound
	case status == 401 || status == 403:
		kind = KindPermissionDenied
	case status == 409:
		kind = KindConflict
	case status == 408 || status == 429 || status >= 500:
		kind = KindTransient
	default:
		kind = KindUnknown
	}
	return NewError(kind, op, fmt.Errorf("status %d: %s", status, body))
}
