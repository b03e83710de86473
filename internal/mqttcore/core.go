package mqttcore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default timings applied by DefaultOptions and for zero values in New.
const (
	DefaultConnectDisconnectTimeout = 30 * time.Second
	DefaultOperationTimeout         = 5 * time.Second
	DefaultDrainingInterval         = 500 * time.Millisecond
	DefaultKeepAlive                = 60 * time.Second
	DefaultQueueSize                = 20
)

// Options configures a Core.
//
// Zero timeouts, keepalive and backoff timings take their defaults in New;
// use the setters to configure a zero (check-once) timeout explicitly.
// QueueSize 0 means an unlimited offline queue and DrainingInterval 0 drains
// without pausing, so start from DefaultOptions to get the usual values.
type Options struct {
	ClientID string
	Broker   BrokerConfig

	KeepAlive                time.Duration
	ConnectDisconnectTimeout time.Duration
	OperationTimeout         time.Duration
	DrainingInterval         time.Duration
	PollInterval             time.Duration

	QueueSize  int
	DropPolicy DropPolicy

	BaseReconnect    time.Duration
	MaxReconnect     time.Duration
	MinStableConnect time.Duration
	AutoReconnect    bool

	Logger  Logger
	OnEvent func(Event)
}

// DefaultOptions returns Options with the runtime's standard settings.
func DefaultOptions(clientID string) Options {
	return Options{
		ClientID:                 clientID,
		KeepAlive:                DefaultKeepAlive,
		ConnectDisconnectTimeout: DefaultConnectDisconnectTimeout,
		OperationTimeout:         DefaultOperationTimeout,
		DrainingInterval:         DefaultDrainingInterval,
		PollInterval:             DefaultPollInterval,
		QueueSize:                DefaultQueueSize,
		DropPolicy:               DropNewest,
		BaseReconnect:            defaultBaseReconnect,
		MaxReconnect:             defaultMaximumReconnect,
		MinStableConnect:         defaultMinimumConnect,
		AutoReconnect:            true,
	}
}

// SubscriptionEntry records an active subscription so it can be restored
// after a reconnect.
type SubscriptionEntry struct {
	Topic   string
	QoS     byte
	Handler MessageHandler
}

// Core owns the wire client and orchestrates the session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Fields are grouped by the lock that protects them.
type Core struct {
	wire     WireClient
	clientID string
	logger   Logger
	onEvent  func(Event)
	backoff  *Backoff

	// cfgMu guards mutable configuration.
	cfgMu                    sync.RWMutex
	broker                   BrokerConfig
	keepAlive                time.Duration
	connectDisconnectTimeout time.Duration
	operationTimeout         time.Duration
	drainingInterval         time.Duration
	pollInterval             time.Duration
	autoReconnect            bool

	// queueMu is the queueing lock: offline queue and draining status.
	queueMu          sync.Mutex
	queue            *OfflineQueue
	drainingComplete bool
	epoch            uint64
	activeDrain      uint64

	// publishMu serialises the wire client's send path.
	publishMu sync.Mutex

	// subscribeMu and unsubscribeMu serialise operation-plus-wait sequences.
	subscribeMu   sync.Mutex
	unsubscribeMu sync.Mutex

	// sigMu guards state written by wire callbacks.
	sigMu               sync.Mutex
	state               ConnectionState
	connectResult       int
	disconnectResult    int
	subAcks             map[uint16][]byte
	unsubAcks           map[uint16]struct{}
	resubscribeCount    int
	resubscribeEpoch    uint64
	resubscribeSettled  map[uint16]struct{}
	disconnectRequested bool
	reconnect           *reconnectHandle

	// poolMu guards the subscription pool.
	poolMu    sync.RWMutex
	pool      map[string]SubscriptionEntry
	poolOrder []string

	// connMu serialises Connect and Disconnect.
	connMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New creates a Core driving wire and registers its callbacks.
//
// Returns:
//   - *Core: Disconnected core ready for Connect
//   - error: ErrInvalidArgument if wire is nil, the client ID is empty or
//     queue/backoff settings are invalid
func New(wire WireClient, opts Options) (*Core, error) {
	if wire == nil {
		return nil, fmt.Errorf("%w: wire client is nil", ErrInvalidArgument)
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID is required", ErrInvalidArgument)
	}
	if opts.DrainingInterval < 0 {
		return nil, fmt.Errorf("%w: draining interval must not be negative", ErrInvalidArgument)
	}
	applyDefaults(&opts)

	queue, err := NewOfflineQueue(opts.QueueSize, opts.DropPolicy)
	if err != nil {
		return nil, err
	}
	backoff, err := NewBackoff(opts.BaseReconnect, opts.MaxReconnect, opts.MinStableConnect)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		wire:                     wire,
		clientID:                 opts.ClientID,
		logger:                   opts.Logger,
		onEvent:                  opts.OnEvent,
		backoff:                  backoff,
		broker:                   opts.Broker,
		keepAlive:                opts.KeepAlive,
		connectDisconnectTimeout: opts.ConnectDisconnectTimeout,
		operationTimeout:         opts.OperationTimeout,
		drainingInterval:         opts.DrainingInterval,
		pollInterval:             opts.PollInterval,
		autoReconnect:            opts.AutoReconnect,
		queue:                    queue,
		drainingComplete:         true,
		epoch:                    1,
		state:                    StateDisconnected,
		connectResult:            noResult,
		disconnectResult:         noResult,
		subAcks:                  make(map[uint16][]byte),
		unsubAcks:                make(map[uint16]struct{}),
		resubscribeCount:         -1,
		resubscribeSettled:       make(map[uint16]struct{}),
		pool:                     make(map[string]SubscriptionEntry),
		ctx:                      ctx,
		cancel:                   cancel,
	}

	wire.SetCallbacks(Callbacks{
		OnConnect:        c.handleConnect,
		OnDisconnect:     c.handleDisconnect,
		OnSubscribeAck:   c.handleSubscribeAck,
		OnUnsubscribeAck: c.handleUnsubscribeAck,
		OnMessage:        c.handleMessage,
	})

	c.logger.Debug("mqtt core initialised",
		"client_id", c.clientID,
		"queue_size", queue.MaxSize(),
		"drop_policy", queue.Policy().String(),
	)
	return c, nil
}

func applyDefaults(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ConnectDisconnectTimeout <= 0 {
		opts.ConnectDisconnectTimeout = DefaultConnectDisconnectTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BaseReconnect <= 0 {
		opts.BaseReconnect = defaultBaseReconnect
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = defaultMaximumReconnect
	}
	if opts.MinStableConnect <= 0 {
		opts.MinStableConnect = defaultMinimumConnect
	}
}

// Close stops the reconnect loop and the stable timer and waits for the
// background workers to finish. It does not disconnect; call Disconnect
// first for a clean session end.
func (c *Core) Close() error {
	c.cancel()
	c.backoff.Stop()
	c.workers.Wait()
	return nil
}

func (c *Core) closed() bool {
	return c.ctx.Err() != nil
}

// spawn runs fn on a tracked background goroutine.
func (c *Core) spawn(fn func()) {
	if c.closed() {
		return
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

// pause sleeps for d unless the core is closed first.
func (c *Core) pause(d time.Duration) bool {
	return sleepContext(c.ctx, d) == nil
}

func (c *Core) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// ClientID returns the MQTT client identifier.
func (c *Core) ClientID() string {
	return c.clientID
}

// Configure sets the broker endpoint and TLS material used by the next Connect.
func (c *Core) Configure(broker BrokerConfig) error {
	if broker.Host == "" {
		return fmt.Errorf("%w: broker host is required", ErrInvalidArgument)
	}
	if broker.Port < 1 || broker.Port > 65535 {
		return fmt.Errorf("%w: broker port %d out of range", ErrInvalidArgument, broker.Port)
	}
	c.cfgMu.Lock()
	c.broker = broker
	c.cfgMu.Unlock()
	c.logger.Info("broker configuration loaded", "host", broker.Host, "port", broker.Port)
	return nil
}

// SetConnectDisconnectTimeout sets the bound for Connect and Disconnect waits.
// Zero means check once without waiting.
func (c *Core) SetConnectDisconnectTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidArgument)
	}
	c.cfgMu.Lock()
	c.connectDisconnectTimeout = d
	c.cfgMu.Unlock()
	c.logger.Info("connect/disconnect timeout set", "timeout", d)
	return nil
}

// ConnectDisconnectTimeout returns the bound for Connect and Disconnect waits.
func (c *Core) ConnectDisconnectTimeout() time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.connectDisconnectTimeout
}

// SetOperationTimeout sets the bound for Subscribe and Unsubscribe waits.
// Zero means check once without waiting.
func (c *Core) SetOperationTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidArgument)
	}
	c.cfgMu.Lock()
	c.operationTimeout = d
	c.cfgMu.Unlock()
	c.logger.Info("operation timeout set", "timeout", d)
	return nil
}

// OperationTimeout returns the bound for Subscribe and Unsubscribe waits.
func (c *Core) OperationTimeout() time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.operationTimeout
}

// SetDrainingInterval sets the pause between replayed publishes and between
// resubscribe requests.
func (c *Core) SetDrainingInterval(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: draining interval must not be negative", ErrInvalidArgument)
	}
	c.cfgMu.Lock()
	c.drainingInterval = d
	c.cfgMu.Unlock()
	return nil
}

// DrainingInterval returns the pause between replayed publishes.
func (c *Core) DrainingInterval() time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.drainingInterval
}

// SetAutoReconnect enables or disables the automatic reconnect loop.
func (c *Core) SetAutoReconnect(enabled bool) {
	c.cfgMu.Lock()
	c.autoReconnect = enabled
	c.cfgMu.Unlock()
}

// SetBackoffTime replaces the progressive backoff timings.
func (c *Core) SetBackoffTime(base, max, minStable time.Duration) error {
	if err := c.backoff.Configure(base, max, minStable); err != nil {
		return err
	}
	c.logger.Info("backoff timing set", "base", base, "max", max, "min_stable", minStable)
	return nil
}

// SetOfflinePublishQueueing replaces the offline queue. Requests already
// queued are moved into the new queue in order, subject to its bound and
// drop policy.
func (c *Core) SetOfflinePublishQueueing(size int, policy DropPolicy) error {
	queue, err := NewOfflineQueue(size, policy)
	if err != nil {
		return err
	}

	c.queueMu.Lock()
	dropped := 0
	for {
		req, ok := c.queue.PopFront()
		if !ok {
			break
		}
		if !queue.Append(req) {
			dropped++
		}
	}
	c.queue = queue
	c.queueMu.Unlock()

	c.logger.Info("offline publish queueing set",
		"size", size,
		"drop_policy", policy.String(),
		"dropped", dropped,
	)
	return nil
}

func (c *Core) timings() (connect, operation, poll time.Duration) {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.connectDisconnectTimeout, c.operationTimeout, c.pollInterval
}

// =============================================================================
// Status
// =============================================================================

// State returns the current connection state.
func (c *Core) State() ConnectionState {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return c.state
}

func (c *Core) setState(s ConnectionState) {
	c.sigMu.Lock()
	c.state = s
	c.sigMu.Unlock()
}

// IsConnected reports whether the session is in StateConnected.
func (c *Core) IsConnected() bool {
	return c.State() == StateConnected
}

// QueueLen returns the number of publishes waiting in the offline queue.
func (c *Core) QueueLen() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.queue.Len()
}

// DrainingComplete reports whether the offline queue has been fully replayed
// since the last (re)connect.
func (c *Core) DrainingComplete() bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.drainingComplete
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	ClientID         string        `json:"client_id"`
	State            string        `json:"state"`
	QueueLen         int           `json:"queue_len"`
	QueueMaxSize     int           `json:"queue_max_size"`
	DropPolicy       string        `json:"drop_policy"`
	DrainingComplete bool          `json:"draining_complete"`
	Subscriptions    []string      `json:"subscriptions"`
	Backoff          time.Duration `json:"backoff_ns"`
}

// Status returns a snapshot of the session for health reporting.
func (c *Core) Status() Status {
	c.queueMu.Lock()
	queueLen := c.queue.Len()
	maxSize := c.queue.MaxSize()
	policy := c.queue.Policy()
	drained := c.drainingComplete
	c.queueMu.Unlock()

	return Status{
		ClientID:         c.clientID,
		State:            c.State().String(),
		QueueLen:         queueLen,
		QueueMaxSize:     maxSize,
		DropPolicy:       policy.String(),
		DrainingComplete: drained,
		Subscriptions:    c.Subscriptions(),
		Backoff:          c.backoff.Current(),
	}
}
