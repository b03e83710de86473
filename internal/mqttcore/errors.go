package mqttcore

import (
	"errors"
	"fmt"
)

// Domain-specific errors for connection-management operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnect is returned when the broker refuses the connection or the
	// connect request cannot be issued.
	ErrConnect = errors.New("mqttcore: connect failed")

	// ErrConnectTimeout is returned when no connect result arrives in time.
	ErrConnectTimeout = errors.New("mqttcore: connect timed out")

	// ErrDisconnect is returned when the disconnect result code is nonzero.
	ErrDisconnect = errors.New("mqttcore: disconnect failed")

	// ErrDisconnectTimeout is returned when no disconnect result arrives in time.
	ErrDisconnectTimeout = errors.New("mqttcore: disconnect timed out")

	// ErrPublish is returned when the wire client rejects a publish.
	ErrPublish = errors.New("mqttcore: publish failed")

	// ErrPublishQueueFull is returned when a publish must be queued but the
	// offline queue is full and drops the newest request.
	ErrPublishQueueFull = errors.New("mqttcore: offline publish queue full")

	// ErrSubscribe is returned when a subscribe is rejected.
	ErrSubscribe = errors.New("mqttcore: subscribe failed")

	// ErrSubscribeTimeout is returned when no SUBACK arrives in time.
	ErrSubscribeTimeout = errors.New("mqttcore: subscribe timed out")

	// ErrUnsubscribe is returned when an unsubscribe is rejected.
	ErrUnsubscribe = errors.New("mqttcore: unsubscribe failed")

	// ErrUnsubscribeTimeout is returned when no UNSUBACK arrives in time.
	ErrUnsubscribeTimeout = errors.New("mqttcore: unsubscribe timed out")

	// ErrInvalidArgument is returned for nil, empty or out-of-range input.
	ErrInvalidArgument = errors.New("mqttcore: invalid argument")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("mqttcore: core closed")
)

// ResultError carries the nonzero result code reported by the wire client.
//
// It unwraps to one of ErrConnect, ErrDisconnect, ErrPublish, ErrSubscribe
// or ErrUnsubscribe:
//
//	var rerr *mqttcore.ResultError
//	if errors.As(err, &rerr) && errors.Is(err, mqttcore.ErrConnect) {
//	    log.Warn("broker refused connection", "code", rerr.Code)
//	}
type ResultError struct {
	Kind error
	Code int
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%v (result code %d)", e.Kind, e.Code)
}

func (e *ResultError) Unwrap() error {
	return e.Kind
}

func resultError(kind error, code int) error {
	return &ResultError{Kind: kind, Code: code}
}
