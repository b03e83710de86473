package mqtt

import "errors"

// Domain-specific errors for the paho adapter.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidBroker is returned when the broker host or port is unusable.
	ErrInvalidBroker = errors.New("mqtt: invalid broker address")

	// ErrTLSConfig is returned when CA, certificate or key files cannot be loaded.
	ErrTLSConfig = errors.New("mqtt: invalid TLS configuration")
)

// Result codes reported to mqttcore through Callbacks and the immediate
// return values of Publish, Subscribe and Unsubscribe. Connect results use
// the broker's CONNACK codes (0-5) unless the transport failed first.
const (
	rcSuccess = 0

	// rcNoConnection means the request was refused because no session is open.
	rcNoConnection = 4

	// rcConnectionLost reports an unexpected disconnect.
	rcConnectionLost = 7

	// rcRequestFailed means the client rejected the request immediately.
	rcRequestFailed = 14

	// rcNetworkError reports a connect attempt that failed before CONNACK.
	rcNetworkError = 0xFE

	// grantedFailure is the SUBACK code for a refused subscription.
	grantedFailure = 0x80
)
