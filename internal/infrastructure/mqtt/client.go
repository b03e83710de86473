package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// Client adapts paho.mqtt.golang to the mqttcore.WireClient contract.
//
// paho's own reconnect, retry and resubscribe machinery is switched off:
// mqttcore owns the session lifecycle and only needs a transport that
// reports acknowledgements asynchronously.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks from a superseded connection attempt are discarded.
type Client struct {
	cfg      config.MQTTConfig
	clientID string

	// client is rebuilt on every ConnectAsync; generation guards callbacks
	// that belong to an earlier instance.
	client     pahomqtt.Client
	generation uint64
	broker     mqttcore.BrokerConfig
	tlsConfig  *tls.Config
	mu         sync.Mutex

	callbacks  mqttcore.Callbacks
	callbackMu sync.RWMutex

	routes *router
	lastID atomic.Uint32

	// logger for error logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New creates an unconnected adapter for the given device.
//
// Broker address and TLS material arrive later through ConfigureTLS and
// ConnectAsync; cfg supplies credentials, session and status options.
func New(cfg config.MQTTConfig, clientID string) *Client {
	return &Client{
		cfg:      cfg,
		clientID: clientID,
		routes:   newRouter(),
	}
}

// SetCallbacks installs the notifications delivered to mqttcore.
func (c *Client) SetCallbacks(cb mqttcore.Callbacks) {
	c.callbackMu.Lock()
	c.callbacks = cb
	c.callbackMu.Unlock()
}

func (c *Client) getCallbacks() mqttcore.Callbacks {
	c.callbackMu.RLock()
	defer c.callbackMu.RUnlock()
	return c.callbacks
}

// ConfigureTLS records the broker endpoint and loads its TLS material.
// A broker without a CA file and without websocket transport uses plain TCP.
func (c *Client) ConfigureTLS(broker mqttcore.BrokerConfig) error {
	tlsConfig, err := loadTLSConfig(broker)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.broker = broker
	c.tlsConfig = tlsConfig
	c.mu.Unlock()
	return nil
}

// ConnectAsync starts a connection attempt and returns without waiting.
// The CONNACK return code, or rcNetworkError when the transport failed
// first, is reported through Callbacks.OnConnect.
func (c *Client) ConnectAsync(host string, port int, keepAlive time.Duration) error {
	if host == "" || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %s:%d", ErrInvalidBroker, host, port)
	}

	c.mu.Lock()
	previous := c.client
	c.generation++
	gen := c.generation
	broker := c.broker
	broker.Host, broker.Port = host, port
	opts := c.buildClientOptions(broker, c.tlsConfig, keepAlive, gen)
	client := pahomqtt.NewClient(opts)
	c.client = client
	c.mu.Unlock()

	if previous != nil && previous.IsConnectionOpen() {
		previous.Disconnect(0)
	}

	token := client.Connect()
	go c.awaitConnect(client, token, gen)
	return nil
}

func (c *Client) awaitConnect(client pahomqtt.Client, token pahomqtt.Token, gen uint64) {
	token.Wait()
	if !c.current(gen) {
		return
	}

	rc := rcSuccess
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		rc = int(ct.ReturnCode())
	}
	if err := token.Error(); err != nil {
		if rc == rcSuccess {
			rc = rcNetworkError
		}
		c.warn("MQTT connect failed", "rc", rc, "error", err)
	}

	if rc == rcSuccess && c.cfg.StatusTopic {
		client.Publish(StatusTopic(c.clientID), 1, true, buildOnlinePayload(c.clientID))
	}

	if cb := c.getCallbacks(); cb.OnConnect != nil {
		cb.OnConnect(rc)
	}
}

// DisconnectAsync starts a graceful disconnect. Completion is reported
// through Callbacks.OnDisconnect with rc 0.
func (c *Client) DisconnectAsync() error {
	c.mu.Lock()
	client := c.client
	gen := c.generation
	c.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	go func() {
		if c.cfg.StatusTopic {
			// Graceful offline status differs from the LWT crash status.
			token := client.Publish(StatusTopic(c.clientID), 1, true, buildOfflinePayload(c.clientID))
			token.WaitTimeout(defaultPublishTimeout)
		}
		client.Disconnect(defaultDisconnectQuiesce)

		if !c.current(gen) {
			return
		}
		if cb := c.getCallbacks(); cb.OnDisconnect != nil {
			cb.OnDisconnect(rcSuccess)
		}
	}()
	return nil
}

// StartNetworkLoop confirms a client exists. paho runs its own network
// goroutines once Connect has been called.
func (c *Client) StartNetworkLoop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return ErrNotConnected
	}
	return nil
}

// StopNetworkLoop closes the current connection immediately and discards
// any callbacks still in flight for it.
func (c *Client) StopNetworkLoop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.generation++
	c.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(0)
	}
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the transport currently holds an open session.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	return client != nil && client.IsConnectionOpen()
}

// SetLogger sets a logger for transport errors.
// If not set, errors are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) warn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// current reports whether gen still identifies the live paho client.
func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// session returns the live paho client, or nil when none is connected.
func (c *Client) session() (pahomqtt.Client, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil, c.generation
	}
	return c.client, c.generation
}

// nextID hands out message identifiers in 1..65535.
func (c *Client) nextID() uint16 {
	for {
		id := uint16(c.lastID.Add(1))
		if id != 0 {
			return id
		}
	}
}

// handleMessage routes an incoming message to its registered callbacks,
// falling back to Callbacks.OnMessage.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if c.routes.dispatch(msg.Topic(), msg.Payload()) {
		return
	}
	if cb := c.getCallbacks(); cb.OnMessage != nil {
		cb.OnMessage(msg.Topic(), msg.Payload())
	}
}

func (c *Client) handleConnectionLost(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	c.warn("MQTT connection lost", "error", err)
	if cb := c.getCallbacks(); cb.OnDisconnect != nil {
		cb.OnDisconnect(rcConnectionLost)
	}
}

// immediateRC maps a token that already completed to a result code.
// Tokens still in flight report success.
func immediateRC(token pahomqtt.Token) int {
	select {
	case <-token.Done():
		return resultCode(token.Error())
	default:
		return rcSuccess
	}
}

func resultCode(err error) int {
	switch {
	case err == nil:
		return rcSuccess
	case errors.Is(err, pahomqtt.ErrNotConnected):
		return rcNoConnection
	default:
		return rcRequestFailed
	}
}
