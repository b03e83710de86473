package mqttcore

import (
	"fmt"
	"slices"
)

// Subscribe subscribes to topic and blocks until the broker acknowledges it
// or the operation timeout expires.
//
// handler may be nil, in which case messages on topic reach the default
// handler, which logs and discards them. This also applies to a topic that
// is already recorded: its previous handler is dropped. On success the
// subscription is recorded and restored automatically after every reconnect.
//
// Returns:
//   - nil once the broker granted the subscription
//   - *ResultError wrapping ErrSubscribe for a nonzero result code or a
//     refused grant (code 0x80)
//   - ErrSubscribeTimeout if no acknowledgement arrived in time
//   - ErrInvalidArgument for an empty topic or QoS above 2
//   - ErrClosed after Close
func (c *Core) Subscribe(topic string, qos byte, handler MessageHandler) error {
	return c.subscribe(topic, qos, handler, false)
}

// subscribe implements Subscribe. When resubscribing, a request that will
// never be counted by handleSubscribeAck settles the pass itself: one that
// the wire rejected outright, or one that timed out with no ack yet.
func (c *Core) subscribe(topic string, qos byte, handler MessageHandler, resubscribing bool) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidArgument)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: qos %d out of range", ErrInvalidArgument, qos)
	}
	if c.closed() {
		return ErrClosed
	}

	c.subscribeMu.Lock()
	defer c.subscribeMu.Unlock()

	_, timeout, poll := c.timings()

	if handler != nil {
		c.wire.RegisterMessageCallback(topic, c.wrapHandler(handler))
	}

	c.sigMu.Lock()
	clear(c.subAcks)
	c.sigMu.Unlock()

	rc, id := c.wire.Subscribe(topic, qos)
	if rc != 0 {
		c.dropProvisionalCallback(topic, handler)
		if resubscribing {
			c.settleResubscription()
		}
		return resultError(ErrSubscribe, rc)
	}

	var granted []byte
	ok := WaitForSignal(timeout, poll, func() bool {
		c.sigMu.Lock()
		defer c.sigMu.Unlock()
		g, acked := c.subAcks[id]
		if acked {
			granted = g
		}
		return acked
	})
	if !ok {
		c.dropProvisionalCallback(topic, handler)
		if resubscribing {
			c.abandonResubscription(id)
		}
		c.logger.Debug("subscribe timed out", "topic", topic, "mid", id, "timeout", timeout)
		return ErrSubscribeTimeout
	}
	if len(granted) > 0 && granted[0] == grantedFailure {
		c.dropProvisionalCallback(topic, handler)
		return resultError(ErrSubscribe, grantedFailure)
	}

	if handler == nil {
		c.wire.RemoveMessageCallback(topic)
	}

	c.poolMu.Lock()
	if _, exists := c.pool[topic]; !exists {
		c.poolOrder = append(c.poolOrder, topic)
	}
	c.pool[topic] = SubscriptionEntry{Topic: topic, QoS: qos, Handler: handler}
	c.poolMu.Unlock()

	c.logger.Debug("subscribed", "topic", topic, "qos", qos)
	return nil
}

// dropProvisionalCallback undoes the registration made by a failed
// Subscribe. A topic that is already recorded gets its recorded handler
// back instead.
func (c *Core) dropProvisionalCallback(topic string, handler MessageHandler) {
	if handler == nil {
		return
	}
	c.poolMu.RLock()
	entry, exists := c.pool[topic]
	c.poolMu.RUnlock()

	if exists && entry.Handler != nil {
		c.wire.RegisterMessageCallback(topic, c.wrapHandler(entry.Handler))
		return
	}
	c.wire.RemoveMessageCallback(topic)
}

// Unsubscribe removes a subscription and blocks until the broker
// acknowledges it or the operation timeout expires.
//
// Unsubscribing a topic that was never recorded is not an error.
func (c *Core) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidArgument)
	}
	if c.closed() {
		return ErrClosed
	}

	c.unsubscribeMu.Lock()
	defer c.unsubscribeMu.Unlock()

	_, timeout, poll := c.timings()

	c.sigMu.Lock()
	clear(c.unsubAcks)
	c.sigMu.Unlock()

	rc, id := c.wire.Unsubscribe(topic)
	if rc != 0 {
		return resultError(ErrUnsubscribe, rc)
	}

	ok := WaitForSignal(timeout, poll, func() bool {
		c.sigMu.Lock()
		defer c.sigMu.Unlock()
		_, acked := c.unsubAcks[id]
		return acked
	})
	if !ok {
		c.logger.Debug("unsubscribe timed out", "topic", topic, "mid", id, "timeout", timeout)
		return ErrUnsubscribeTimeout
	}

	c.poolMu.Lock()
	if _, exists := c.pool[topic]; exists {
		delete(c.pool, topic)
		c.poolOrder = slices.DeleteFunc(c.poolOrder, func(t string) bool { return t == topic })
	}
	c.poolMu.Unlock()
	c.wire.RemoveMessageCallback(topic)

	c.logger.Debug("unsubscribed", "topic", topic)
	return nil
}

// SubscriptionCount returns the number of recorded subscriptions.
func (c *Core) SubscriptionCount() int {
	c.poolMu.RLock()
	defer c.poolMu.RUnlock()
	return len(c.pool)
}

// HasSubscription checks if a subscription is recorded for the exact topic.
func (c *Core) HasSubscription(topic string) bool {
	c.poolMu.RLock()
	defer c.poolMu.RUnlock()
	_, exists := c.pool[topic]
	return exists
}

// Subscriptions returns the recorded topics in subscription order.
func (c *Core) Subscriptions() []string {
	c.poolMu.RLock()
	defer c.poolMu.RUnlock()
	return slices.Clone(c.poolOrder)
}

func (c *Core) poolSnapshot() []SubscriptionEntry {
	c.poolMu.RLock()
	defer c.poolMu.RUnlock()
	entries := make([]SubscriptionEntry, 0, len(c.poolOrder))
	for _, topic := range c.poolOrder {
		entries = append(entries, c.pool[topic])
	}
	return entries
}

// resubscribe restores every recorded subscription after a connect and
// hands over to the draining worker.
//
// With an empty pool draining starts at once. Otherwise the expected
// acknowledgement counter is armed and the last acknowledgement (see
// handleSubscribeAck) starts draining. Each request is counted once: by its
// ack, or by subscribe when no ack is coming. Failures are logged and
// swallowed; the topic stays recorded and is retried on the next reconnect.
func (c *Core) resubscribe(epoch uint64) {
	entries := c.poolSnapshot()
	if len(entries) == 0 {
		c.drain(epoch)
		return
	}

	c.sigMu.Lock()
	c.resubscribeCount = len(entries)
	c.resubscribeEpoch = epoch
	clear(c.resubscribeSettled)
	c.sigMu.Unlock()

	c.logger.Info("restoring MQTT subscriptions", "count", len(entries))
	for _, entry := range entries {
		if !c.sessionCurrent(epoch) {
			c.logger.Debug("resubscription stopped, session changed")
			return
		}
		if err := c.subscribe(entry.Topic, entry.QoS, entry.Handler, true); err != nil {
			c.logger.Debug("resubscribe failed", "topic", entry.Topic, "error", err)
		}

		c.cfgMu.RLock()
		interval := c.drainingInterval
		c.cfgMu.RUnlock()
		if !c.pause(interval) {
			return
		}
	}
}

// settleResubscription counts one resubscription as finished and starts the
// draining worker when it was the last one outstanding.
func (c *Core) settleResubscription() {
	c.sigMu.Lock()
	epoch, start := c.settleResubscriptionLocked()
	c.sigMu.Unlock()

	if start {
		c.spawn(func() { c.drain(epoch) })
	}
}

// abandonResubscription settles a timed-out resubscription unless its ack
// was already counted, and marks it so a late ack is not counted again.
func (c *Core) abandonResubscription(id uint16) {
	c.sigMu.Lock()
	if _, acked := c.subAcks[id]; acked || c.resubscribeCount <= 0 {
		c.sigMu.Unlock()
		return
	}
	c.resubscribeSettled[id] = struct{}{}
	epoch, start := c.settleResubscriptionLocked()
	c.sigMu.Unlock()

	if start {
		c.spawn(func() { c.drain(epoch) })
	}
}

// settleResubscriptionLocked decrements the counter while it is positive and
// reports whether draining should start. Requires sigMu.
func (c *Core) settleResubscriptionLocked() (uint64, bool) {
	if c.resubscribeCount <= 0 {
		return 0, false
	}
	c.resubscribeCount--
	if c.resubscribeCount > 0 {
		return 0, false
	}
	c.resubscribeCount = -1
	return c.resubscribeEpoch, true
}

func (c *Core) sessionCurrent(epoch uint64) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.epoch == epoch && c.State() == StateConnected
}
