package bridge

import "errors"

// Domain errors for the serial command bridge.
var (
	// ErrAcceptTimeout is returned when a frame is not completely received
	// within the accept timeout.
	ErrAcceptTimeout = errors.New("bridge: accept timed out")

	// ErrMalformedFrame is returned when a count line is not a positive number.
	ErrMalformedFrame = errors.New("bridge: malformed frame")

	// ErrSessionRequired is returned by New when no MQTT session is supplied.
	ErrSessionRequired = errors.New("bridge: MQTT session is required")
)
