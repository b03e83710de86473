package mqttcore

import (
	"fmt"
	"time"
)

const (
	maxQoS = 2

	// Maximum payload size for MQTT messages (1MB).
	maxPayloadSize = 1 << 20
)

// Publish sends a message, or queues it while the session is offline or the
// offline queue is still being replayed.
//
// Queued requests are replayed in order after the next successful connect,
// one per draining interval. A request is queued, not sent, until the replay
// has finished so that nothing overtakes an older queued message.
//
// Returns:
//   - nil when the message was handed to the wire client or queued
//   - ErrPublishQueueFull when the queue is full and drops the newest request
//   - *ResultError wrapping ErrPublish for a nonzero wire result code
//   - ErrInvalidArgument for an empty topic, QoS above 2 or oversized payload
//   - ErrClosed after Close
//
// Example:
//
//	err := core.Publish("sdk/telemetry", []byte(`{"temp":21.5}`), 1, false)
//	if errors.Is(err, mqttcore.ErrPublishQueueFull) {
//	    log.Warn("telemetry dropped while offline")
//	}
func (c *Core) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidArgument)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: qos %d out of range", ErrInvalidArgument, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrInvalidArgument, len(payload), maxPayloadSize)
	}
	if c.closed() {
		return ErrClosed
	}

	c.queueMu.Lock()
	if !c.drainingComplete || c.State() != StateConnected {
		req := PublishRequest{
			Topic:   topic,
			Payload: append([]byte(nil), payload...),
			QoS:     qos,
			Retain:  retain,
		}
		policy := c.queue.Policy()
		appended := c.queue.Append(req)
		queued := c.queue.Len()
		c.queueMu.Unlock()

		if appended {
			c.logger.Debug("publish queued offline", "topic", topic, "queue_len", queued)
			return nil
		}
		if policy == DropNewest {
			c.logger.Warn("offline publish queue full, dropping request", "topic", topic)
			return ErrPublishQueueFull
		}
		c.logger.Warn("offline publish queue full, dropped oldest request", "topic", topic)
		return nil
	}
	c.queueMu.Unlock()

	c.publishMu.Lock()
	rc, id := c.wire.Publish(topic, payload, qos, retain)
	c.publishMu.Unlock()

	if rc != 0 {
		return resultError(ErrPublish, rc)
	}
	c.logger.Debug("published", "topic", topic, "qos", qos, "mid", id)
	return nil
}

// PublishString publishes a string payload.
func (c *Core) PublishString(topic, payload string, qos byte, retain bool) error {
	return c.Publish(topic, []byte(payload), qos, retain)
}

// drain replays the offline queue for the session identified by epoch.
//
// Each request is popped and published while holding the queueing lock, so
// a concurrent Publish cannot slip in between. The loop ends when the queue
// is empty (marking draining complete), when the wire client rejects a
// request, or when the session it belongs to has gone.
func (c *Core) drain(epoch uint64) {
	c.queueMu.Lock()
	if c.activeDrain == epoch {
		c.queueMu.Unlock()
		return
	}
	c.activeDrain = epoch
	c.queueMu.Unlock()

	start := time.Now()
	sent := 0
	for {
		c.queueMu.Lock()
		if c.epoch != epoch || c.State() != StateConnected {
			c.queueMu.Unlock()
			c.logger.Debug("draining stopped, session changed", "sent", sent)
			return
		}

		req, ok := c.queue.PopFront()
		if !ok {
			c.drainingComplete = true
			c.queueMu.Unlock()
			if sent > 0 {
				c.logger.Info("offline publish queue drained",
					"sent", sent,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
			}
			c.emit(Event{Type: EventDrained, Elapsed: time.Since(start)})
			return
		}

		c.publishMu.Lock()
		rc, _ := c.wire.Publish(req.Topic, req.Payload, req.QoS, req.Retain)
		c.publishMu.Unlock()
		remaining := c.queue.Len()
		c.queueMu.Unlock()

		if rc != 0 {
			c.logger.Warn("draining stopped, queued publish rejected",
				"topic", req.Topic,
				"rc", rc,
				"remaining", remaining,
			)
			return
		}
		sent++

		c.cfgMu.RLock()
		interval := c.drainingInterval
		c.cfgMu.RUnlock()
		if !c.pause(interval) {
			return
		}
	}
}
