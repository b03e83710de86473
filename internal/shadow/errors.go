package shadow

import "errors"

// Domain-specific errors for shadow document handling.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a key, slot or JSON path has no value.
	ErrNotFound = errors.New("shadow: not found")

	// ErrInvalidHistoryLimit is returned for a limit that is negative, 1 or 2.
	ErrInvalidHistoryLimit = errors.New("shadow: history limit must be 0 or at least 3")

	// ErrUnknownKind is returned for a response kind other than accepted,
	// rejected or delta.
	ErrUnknownKind = errors.New("shadow: unknown response kind")

	// ErrListenerStarted is returned by Start on a running listener.
	ErrListenerStarted = errors.New("shadow: listener already started")
)
