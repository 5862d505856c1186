package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput is returned when an ingress message fails
	// preamble validation.
	ErrMalformedInput = errors.New("malformed ingress message")

	// ErrNotFound is returned when a body side-channel or a routed
	// service does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded is returned when a serialized envelope would
	// not fit the target buffer. No partial output is ever produced.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrTransportUnavailable is returned when there is no usable
	// connection to the delivery transport.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrTimeout is returned when a bounded wait on a local channel
	// expires before the peer shows up.
	ErrTimeout = errors.New("timed out")
)

// RouteError describes why an inbound envelope was rejected. Rejections
// are per-message and never fatal to the delivery pipeline.
type RouteError struct {
	Service string
	Op      string
	Err     error
}

func (e *RouteError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("route %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("route %s to %q: %v", e.Op, e.Service, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}
