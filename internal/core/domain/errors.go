package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNonMonotonic     = errors.New("non monotonic meter reading")
	ErrIntervalTooShort = errors.New("sample interval too short")
	ErrIntervalTooLong  = errors.New("sample interval too long")
)

type FetchErrorKind int

const (
	FetchTimeout FetchErrorKind = iota
	FetchUnreachable
	FetchMalformedResponse
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTimeout:
		return "timeout"
	case FetchUnreachable:
		return "unreachable"
	case FetchMalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// FetchError is returned by meter clients.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("meter fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError classifies a transport error as timeout or unreachable.
func NewFetchError(err error) *FetchError {
	if isTimeout(err) {
		return &FetchError{Kind: FetchTimeout, Err: err}
	}
	return &FetchError{Kind: FetchUnreachable, Err: err}
}

func MalformedResponse(format string, args ...any) *FetchError {
	return &FetchError{Kind: FetchMalformedResponse, Err: fmt.Errorf(format, args...)}
}

type ApplyErrorKind int

const (
	ApplyTimeout ApplyErrorKind = iota
	ApplyUnreachable
	ApplyRejected
)

func (k ApplyErrorKind) String() string {
	switch k {
	case ApplyTimeout:
		return "timeout"
	case ApplyUnreachable:
		return "unreachable"
	case ApplyRejected:
		return "rejected"
	}
	return "unknown"
}

// ApplyError is returned by EVSE clients.
type ApplyError struct {
	Kind   ApplyErrorKind
	Reason string
	Err    error
}

func (e *ApplyError) Error() string {
	if e.Kind == ApplyRejected {
		return fmt.Sprintf("evse rejected command: %s", e.Reason)
	}
	return fmt.Sprintf("evse apply %s: %v", e.Kind, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func NewApplyError(err error) *ApplyError {
	if isTimeout(err) {
		return &ApplyError{Kind: ApplyTimeout, Err: err}
	}
	return &ApplyError{Kind: ApplyUnreachable, Err: err}
}

func Rejected(reason string) *ApplyError {
	return &ApplyError{Kind: ApplyRejected, Reason: reason}
}

// IsRejected reports whether err is an EVSE rejection. A rejected command
// is not retried within the same cycle.
func IsRejected(err error) bool {
	var applyErr *ApplyError
	return errors.As(err, &applyErr) && applyErr.Kind == ApplyRejected
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
