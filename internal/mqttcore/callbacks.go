package mqttcore

// handleConnect is invoked by the wire client with the broker's connect
// result code.
//
// An acknowledgement is only accepted while a Connect is waiting for it.
// On success the session epoch advances, publishes revert to queueing and
// the resubscribe+drain sequence starts in the background.
func (c *Core) handleConnect(rc int) {
	c.queueMu.Lock()
	c.sigMu.Lock()
	if c.state != StateConnecting {
		state := c.state
		c.sigMu.Unlock()
		c.queueMu.Unlock()
		c.logger.Warn("ignoring late connect acknowledgement", "rc", rc, "state", state.String())
		return
	}
	c.connectResult = rc
	c.disconnectResult = noResult
	if rc != 0 {
		c.state = StateDisconnected
		c.sigMu.Unlock()
		c.queueMu.Unlock()
		c.logger.Debug("connect result", "rc", rc)
		return
	}
	c.state = StateConnected
	c.resubscribeCount = -1
	clear(c.resubscribeSettled)
	c.sigMu.Unlock()

	c.epoch++
	epoch := c.epoch
	c.drainingComplete = false
	c.queueMu.Unlock()

	c.logger.Debug("connect result", "rc", rc)
	c.backoff.StartStableTimer()
	c.spawn(func() { c.resubscribe(epoch) })
}

// handleDisconnect is invoked by the wire client when the session ends,
// either on request (rc 0) or unexpectedly (nonzero rc).
func (c *Core) handleDisconnect(rc int) {
	c.queueMu.Lock()
	c.sigMu.Lock()
	wasConnected := c.state == StateConnected || c.state == StateDisconnecting
	c.state = StateDisconnected
	c.disconnectResult = rc
	c.connectResult = noResult
	c.resubscribeCount = -1
	clear(c.resubscribeSettled)
	requested := c.disconnectRequested
	c.sigMu.Unlock()

	c.drainingComplete = false
	c.epoch++
	queued := c.queue.Len()
	c.queueMu.Unlock()

	c.cfgMu.RLock()
	auto := c.autoReconnect
	c.cfgMu.RUnlock()

	if rc == 0 {
		c.logger.Info("MQTT session closed", "queued", queued)
	} else {
		c.logger.Warn("MQTT connection lost", "rc", rc, "queued", queued)
	}
	if wasConnected {
		c.emit(Event{Type: EventDisconnected, Code: rc, QueueLen: queued})
	}

	if rc != 0 && auto && !requested {
		c.startReconnect()
	}
}

// handleSubscribeAck records the grant for the waiting Subscribe and counts
// towards the resubscription pass. An ack for a request the pass already
// settled after its timeout is not counted again.
func (c *Core) handleSubscribeAck(id uint16, granted []byte) {
	c.sigMu.Lock()
	c.subAcks[id] = granted
	if _, settled := c.resubscribeSettled[id]; settled {
		delete(c.resubscribeSettled, id)
		c.sigMu.Unlock()
		c.logger.Debug("late subscribe acknowledgement", "mid", id, "granted", granted)
		return
	}
	epoch, start := c.settleResubscriptionLocked()
	c.sigMu.Unlock()

	c.logger.Debug("subscribe acknowledged", "mid", id, "granted", granted)
	if start {
		c.spawn(func() { c.drain(epoch) })
	}
}

func (c *Core) handleUnsubscribeAck(id uint16) {
	c.sigMu.Lock()
	c.unsubAcks[id] = struct{}{}
	c.sigMu.Unlock()

	c.logger.Debug("unsubscribe acknowledged", "mid", id)
}

// handleMessage receives messages no topic callback claimed.
func (c *Core) handleMessage(topic string, payload []byte) {
	c.logger.Debug("message without registered handler discarded",
		"topic", topic,
		"payload_bytes", len(payload),
	)
}

// wrapHandler adapts a MessageHandler to the wire callback signature with
// panic recovery and error logging.
func (c *Core) wrapHandler(handler MessageHandler) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}()

		if err := handler(topic, payload); err != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
