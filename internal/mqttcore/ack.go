package mqttcore

import "time"

// DefaultPollInterval is the granularity at which WaitForSignal re-checks
// its predicate.
const DefaultPollInterval = 10 * time.Millisecond

// WaitForSignal polls signalled every pollInterval until it returns true or
// timeout has elapsed, and reports whether the signal arrived in time.
//
// A timeout of zero (or less) checks signalled exactly once and returns
// without blocking. There is no "wait forever" value; pass a large timeout
// instead. A non-positive pollInterval uses DefaultPollInterval.
func WaitForSignal(timeout, pollInterval time.Duration, signalled func() bool) bool {
	if signalled() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if signalled() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
	return false
}
