package mqttcore

import "time"

// BrokerConfig holds the broker endpoint and the TLS material handed to the
// wire client before every connect.
type BrokerConfig struct {
	Host     string
	Port     int
	CAFile   string
	CertFile string
	KeyFile  string

	// Websocket connects over wss://; only the CA file is used for TLS.
	Websocket bool
}

// Callbacks are the asynchronous notifications a WireClient delivers.
// They may be invoked from any goroutine.
type Callbacks struct {
	OnConnect        func(rc int)
	OnDisconnect     func(rc int)
	OnSubscribeAck   func(id uint16, granted []byte)
	OnUnsubscribeAck func(id uint16)
	OnMessage        func(topic string, payload []byte)
}

// WireClient is the raw MQTT protocol client Core drives.
//
// Publish, Subscribe and Unsubscribe return the immediate result code of
// handing the request to the transport (0 = accepted) and an opaque message
// ID; the matching acknowledgement is delivered later through Callbacks.
type WireClient interface {
	SetCallbacks(cb Callbacks)
	ConfigureTLS(broker BrokerConfig) error
	ConnectAsync(host string, port int, keepAlive time.Duration) error
	DisconnectAsync() error
	Publish(topic string, payload []byte, qos byte, retain bool) (rc int, id uint16)
	Subscribe(topic string, qos byte) (rc int, id uint16)
	Unsubscribe(topic string) (rc int, id uint16)
	RegisterMessageCallback(topic string, fn func(topic string, payload []byte))
	RemoveMessageCallback(topic string)
	StartNetworkLoop() error
	StopNetworkLoop()
}

// MessageHandler is the callback signature for received messages.
//
// Returned errors are logged and do not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger defines the logging interface used by Core.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType names a connection lifecycle event reported through Options.OnEvent.
type EventType string

const (
	EventConnected     EventType = "connect"
	EventConnectFailed EventType = "connect_failed"
	EventDisconnected  EventType = "disconnect"
	EventDrained       EventType = "drained"
)

// Event describes one lifecycle transition.
type Event struct {
	Type     EventType
	Code     int
	Elapsed  time.Duration
	QueueLen int
}
