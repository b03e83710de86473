package mqttcore

// ConnectionState is the connection lifecycle state tracked by Core.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// noResult marks a connect/disconnect result code that has not arrived yet.
const noResult = -1

// grantedFailure is the SUBACK return code for a refused subscription.
const grantedFailure = 0x80
