package mqttcore

import (
	"context"
	"fmt"
	"time"
)

// reconnectHandle identifies one running reconnect loop.
type reconnectHandle struct {
	cancel context.CancelFunc
}

// Connect opens the session and blocks until the broker acknowledges it or
// the connect/disconnect timeout expires.
//
// A zero keepAlive uses the configured keepalive. Connecting an already
// connected core is a no-op.
//
// Returns:
//   - nil on a zero connect result code
//   - *ResultError wrapping ErrConnect for a nonzero code
//   - ErrConnectTimeout if no result arrived in time
//   - ErrClosed after Close
func (c *Core) Connect(keepAlive time.Duration) error {
	if c.closed() {
		return ErrClosed
	}
	return c.connect(c.ctx, keepAlive)
}

func (c *Core) connect(ctx context.Context, keepAlive time.Duration) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.sigMu.Lock()
	if c.state == StateConnected {
		c.sigMu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.connectResult = noResult
	c.disconnectRequested = false
	c.sigMu.Unlock()

	c.cfgMu.RLock()
	broker := c.broker
	if keepAlive <= 0 {
		keepAlive = c.keepAlive
	}
	c.cfgMu.RUnlock()
	timeout, _, poll := c.timings()

	if err := c.wire.ConfigureTLS(broker); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: configuring transport: %w", ErrConnect, err)
	}

	start := time.Now()
	c.logger.Info("connecting to MQTT broker",
		"client_id", c.clientID,
		"host", broker.Host,
		"port", broker.Port,
		"keepalive", keepAlive,
	)
	if err := c.wire.ConnectAsync(broker.Host, broker.Port, keepAlive); err != nil {
		c.setState(StateDisconnected)
		c.emit(Event{Type: EventConnectFailed, Code: noResult, Elapsed: time.Since(start)})
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if err := c.wire.StartNetworkLoop(); err != nil {
		c.setState(StateDisconnected)
		c.emit(Event{Type: EventConnectFailed, Code: noResult, Elapsed: time.Since(start)})
		return fmt.Errorf("%w: starting network loop: %v", ErrConnect, err)
	}

	WaitForSignal(timeout, poll, func() bool {
		c.sigMu.Lock()
		defer c.sigMu.Unlock()
		return c.connectResult != noResult
	})

	// Resolve under the lock so an acknowledgement racing the deadline is
	// either counted here or ignored by handleConnect, never both.
	c.sigMu.Lock()
	rc := c.connectResult
	if rc == noResult {
		c.state = StateDisconnected
	}
	c.sigMu.Unlock()
	elapsed := time.Since(start)

	switch {
	case rc == noResult:
		c.wire.StopNetworkLoop()
		c.logger.Warn("MQTT connect timed out", "timeout", timeout)
		c.emit(Event{Type: EventConnectFailed, Code: noResult, Elapsed: elapsed})
		return ErrConnectTimeout
	case rc != 0:
		c.wire.StopNetworkLoop()
		c.logger.Warn("MQTT broker refused connection", "rc", rc)
		c.emit(Event{Type: EventConnectFailed, Code: rc, Elapsed: elapsed})
		return resultError(ErrConnect, rc)
	}

	c.logger.Info("connected to MQTT broker", "elapsed_ms", elapsed.Milliseconds())
	c.emit(Event{Type: EventConnected, Elapsed: elapsed, QueueLen: c.QueueLen()})
	return nil
}

// Disconnect closes the session and blocks until the wire client reports
// the result or the connect/disconnect timeout expires.
//
// A caller disconnect stops any running reconnect loop and suppresses
// automatic reconnects until the next Connect. Disconnecting a core that is
// already disconnected returns nil.
func (c *Core) Disconnect() error {
	c.sigMu.Lock()
	c.disconnectRequested = true
	h := c.reconnect
	c.reconnect = nil
	c.sigMu.Unlock()
	if h != nil {
		h.cancel()
	}
	c.backoff.Stop()

	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.sigMu.Lock()
	prev := c.state
	if prev == StateDisconnected {
		c.sigMu.Unlock()
		c.logger.Debug("disconnect requested while already disconnected")
		return nil
	}
	c.state = StateDisconnecting
	c.disconnectResult = noResult
	c.sigMu.Unlock()

	timeout, _, poll := c.timings()

	if err := c.wire.DisconnectAsync(); err != nil {
		c.restoreState(prev)
		return fmt.Errorf("%w: %v", ErrDisconnect, err)
	}

	WaitForSignal(timeout, poll, func() bool {
		c.sigMu.Lock()
		defer c.sigMu.Unlock()
		return c.disconnectResult != noResult
	})

	c.sigMu.Lock()
	rc := c.disconnectResult
	c.sigMu.Unlock()

	switch {
	case rc == noResult:
		c.restoreState(prev)
		c.logger.Warn("MQTT disconnect timed out", "timeout", timeout)
		return ErrDisconnectTimeout
	case rc != 0:
		c.logger.Warn("MQTT disconnect failed", "rc", rc)
		return resultError(ErrDisconnect, rc)
	}

	c.wire.StopNetworkLoop()
	c.logger.Info("disconnected from MQTT broker")
	return nil
}

// restoreState reverts a Disconnecting state that no callback resolved.
func (c *Core) restoreState(prev ConnectionState) {
	c.sigMu.Lock()
	if c.state == StateDisconnecting {
		c.state = prev
	}
	c.sigMu.Unlock()
}

// StartAutoReconnect starts the reconnect loop unless one is already running
// or the session was ended by Disconnect. Use it after an initial Connect
// failure to keep retrying in the background.
func (c *Core) StartAutoReconnect() {
	c.startReconnect()
}

// Reconnecting reports whether the reconnect loop is running.
func (c *Core) Reconnecting() bool {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return c.reconnect != nil
}

func (c *Core) startReconnect() {
	if c.closed() {
		return
	}
	c.sigMu.Lock()
	if c.reconnect != nil || c.disconnectRequested {
		c.sigMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	h := &reconnectHandle{cancel: cancel}
	c.reconnect = h
	c.sigMu.Unlock()

	c.spawn(func() {
		defer func() {
			c.sigMu.Lock()
			if c.reconnect == h {
				c.reconnect = nil
			}
			c.sigMu.Unlock()
			cancel()
		}()
		c.reconnectLoop(ctx)
	})
}

// reconnectLoop backs off and retries Connect until one attempt succeeds,
// auto-reconnect is switched off, or ctx is cancelled.
func (c *Core) reconnectLoop(ctx context.Context) {
	c.logger.Info("starting MQTT reconnect loop")
	for attempt := 1; ; attempt++ {
		if err := c.backoff.BackOff(ctx); err != nil {
			c.logger.Debug("reconnect loop stopped during backoff")
			return
		}

		c.cfgMu.RLock()
		enabled := c.autoReconnect
		c.cfgMu.RUnlock()
		if !enabled {
			c.logger.Info("auto-reconnect disabled, stopping reconnect loop")
			return
		}

		err := c.connect(ctx, 0)
		if err == nil {
			c.logger.Info("MQTT reconnected", "attempt", attempt)
			return
		}
		if ctx.Err() != nil || c.closed() {
			return
		}
		c.logger.Warn("MQTT reconnect attempt failed",
			"attempt", attempt,
			"error", err,
			"next_delay", c.backoff.Current(),
		)
	}
}
