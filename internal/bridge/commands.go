package bridge

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// cmdInit confirms the session: i <client_id> <clean_session> <mqtt_version>.
// Identity and session options come from configuration; mismatches are logged.
func (b *Bridge) cmdInit(_ context.Context, params []string) []string {
	clean, err := parseFlag(params[1])
	if err != nil {
		return []string{"I F"}
	}
	if v := params[2]; v != "3" && v != "4" {
		return []string{"I F"}
	}
	if params[0] != b.session.ClientID() {
		b.logWarn("bridge client ID differs from configured device ID",
			"requested", params[0], "configured", b.session.ClientID())
	}

	b.stateMu.Lock()
	b.initialized = true
	b.stateMu.Unlock()

	b.logInfo("bridge session initialised", "client_id", b.session.ClientID(), "clean_session", clean)
	return []string{"I T"}
}

// cmdConfigure: g <host> <port> <ca_file> <key_file> <cert_file>.
func (b *Bridge) cmdConfigure(_ context.Context, params []string) []string {
	port, err := strconv.Atoi(params[1])
	if err != nil {
		return []string{failure("G", "2", "port is not a number")}
	}
	broker := mqttcore.BrokerConfig{
		Host:     params[0],
		Port:     port,
		CAFile:   params[2],
		KeyFile:  params[3],
		CertFile: params[4],
	}
	if err := b.session.Configure(broker); err != nil {
		if errors.Is(err, mqttcore.ErrInvalidArgument) {
			return []string{failure("G", "2", err.Error())}
		}
		return []string{failure("G", "F", "Unknown error.")}
	}
	return []string{success("G")}
}

// cmdConnect: c <keepalive_seconds>.
func (b *Bridge) cmdConnect(_ context.Context, params []string) []string {
	keepAlive, err := parseSeconds(params[0])
	if err != nil || keepAlive <= 0 {
		return []string{failure("C", "2", "keepalive must be a positive number of seconds")}
	}

	err = b.session.Connect(keepAlive)
	switch {
	case err == nil:
		return []string{success("C")}
	case errors.Is(err, mqtt.ErrTLSConfig) && errors.Is(err, fs.ErrNotExist):
		return []string{failure("C", "6", err.Error())}
	case errors.Is(err, mqtt.ErrTLSConfig):
		return []string{failure("C", "3", err.Error())}
	case errors.Is(err, mqttcore.ErrConnectTimeout):
		return []string{failure("C", "5", err.Error())}
	case errors.Is(err, mqttcore.ErrConnect):
		return []string{failure("C", "4", err.Error())}
	default:
		b.logError("bridge connect failed", err)
		return []string{failure("C", "F", "Unknown error.")}
	}
}

// cmdDisconnect: d.
func (b *Bridge) cmdDisconnect(_ context.Context, _ []string) []string {
	err := b.session.Disconnect()
	switch {
	case err == nil:
		return []string{success("D")}
	case errors.Is(err, mqttcore.ErrDisconnectTimeout):
		return []string{failure("D", "3", err.Error())}
	case errors.Is(err, mqttcore.ErrDisconnect):
		return []string{failure("D", "2", err.Error())}
	default:
		b.logError("bridge disconnect failed", err)
		return []string{failure("D", "F", "Unknown error.")}
	}
}

// cmdPublish: p <topic> <payload> <qos> <retain>.
func (b *Bridge) cmdPublish(_ context.Context, params []string) []string {
	qos, err := parseQoS(params[2])
	if err != nil {
		return []string{failure("P", "2", err.Error())}
	}
	retain, err := parseFlag(params[3])
	if err != nil {
		return []string{failure("P", "2", err.Error())}
	}

	err = b.session.Publish(params[0], []byte(params[1]), qos, retain)
	switch {
	case err == nil:
		return []string{success("P")}
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		return []string{failure("P", "2", err.Error())}
	case errors.Is(err, mqttcore.ErrPublishQueueFull):
		return []string{failure("P", "4", err.Error())}
	case errors.Is(err, mqttcore.ErrPublish):
		return []string{failure("P", "3", err.Error())}
	default:
		b.logError("bridge publish failed", err)
		return []string{failure("P", "F", "Unknown error.")}
	}
}

// cmdSubscribe: s <topic> <qos> <slot>. Messages on topic are queued for
// yield under slot.
func (b *Bridge) cmdSubscribe(_ context.Context, params []string) []string {
	topic := params[0]
	qos, err := parseQoS(params[1])
	if err != nil {
		return []string{failure("S", "2", err.Error())}
	}
	slot, err := parseSlot(params[2])
	if err != nil {
		return []string{failure("S", "2", err.Error())}
	}

	err = b.session.Subscribe(topic, qos, b.slotHandler(slot))
	switch {
	case err == nil:
		b.stateMu.Lock()
		b.topicSlots[topic] = slot
		b.stateMu.Unlock()
		return []string{success("S")}
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		return []string{failure("S", "2", err.Error())}
	case errors.Is(err, mqttcore.ErrSubscribeTimeout):
		return []string{failure("S", "4", err.Error())}
	case errors.Is(err, mqttcore.ErrSubscribe):
		return []string{failure("S", "3", err.Error())}
	default:
		b.logError("bridge subscribe failed", err)
		return []string{failure("S", "F", "Unknown error.")}
	}
}

// cmdUnsubscribe: u <topic>. A topic subscribed through the bridge answers
// with its slot so the client can release it.
func (b *Bridge) cmdUnsubscribe(_ context.Context, params []string) []string {
	topic := params[0]
	err := b.session.Unsubscribe(topic)
	switch {
	case err == nil:
		b.stateMu.Lock()
		slot, ok := b.topicSlots[topic]
		delete(b.topicSlots, topic)
		b.stateMu.Unlock()
		if ok {
			return []string{"U " + strconv.Itoa(slot)}
		}
		return []string{success("U")}
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		return []string{failure("U", "2", err.Error())}
	case errors.Is(err, mqttcore.ErrUnsubscribeTimeout):
		return []string{failure("U", "4", err.Error())}
	case errors.Is(err, mqttcore.ErrUnsubscribe):
		return []string{failure("U", "3", err.Error())}
	default:
		b.logError("bridge unsubscribe failed", err)
		return []string{failure("U", "F", "Unknown error.")}
	}
}

// cmdLock: z. Fixes the number of messages the following y commands return.
func (b *Bridge) cmdLock(_ context.Context, _ []string) []string {
	n := b.inbox.lock()
	b.logDebug("yield locked", "messages", n)
	return []string{success("Z")}
}

// cmdYield: y. Returns the next chunk as "Y <slot> <more> <data>", or
// "Y F" when the locked messages are exhausted.
func (b *Bridge) cmdYield(_ context.Context, _ []string) []string {
	line, ok := b.inbox.next(b.chunkSize)
	if !ok {
		return []string{"Y F"}
	}
	return []string{line}
}

// cmdDrainingInterval: di <seconds>.
func (b *Bridge) cmdDrainingInterval(_ context.Context, params []string) []string {
	d, err := parseSeconds(params[0])
	if err != nil {
		return []string{failure("DI", "2", err.Error())}
	}
	return configResult("DI", b.session.SetDrainingInterval(d))
}

// cmdOfflineQueueing: pq <size> <drop_behavior>.
func (b *Bridge) cmdOfflineQueueing(_ context.Context, params []string) []string {
	size, err := strconv.Atoi(params[0])
	if err != nil {
		return []string{failure("PQ", "2", "queue size is not a number")}
	}
	policy, err := mqttcore.ParseDropPolicy(params[1])
	if err != nil {
		return []string{failure("PQ", "2", err.Error())}
	}
	return configResult("PQ", b.session.SetOfflinePublishQueueing(size, policy))
}

// cmdBackoff: bf <base_seconds> <max_seconds> <min_stable_seconds>.
func (b *Bridge) cmdBackoff(_ context.Context, params []string) []string {
	var d [3]time.Duration
	for i, p := range params {
		v, err := parseSeconds(p)
		if err != nil {
			return []string{failure("BF", "2", err.Error())}
		}
		d[i] = v
	}
	return configResult("BF", b.session.SetBackoffTime(d[0], d[1], d[2]))
}

// cmdConnectDisconnectTimeout: cdt <seconds>.
func (b *Bridge) cmdConnectDisconnectTimeout(_ context.Context, params []string) []string {
	d, err := parseSeconds(params[0])
	if err != nil {
		return []string{failure("CDT", "2", err.Error())}
	}
	return configResult("CDT", b.session.SetConnectDisconnectTimeout(d))
}

// cmdOperationTimeout: mot <seconds>.
func (b *Bridge) cmdOperationTimeout(_ context.Context, params []string) []string {
	d, err := parseSeconds(params[0])
	if err != nil {
		return []string{failure("MOT", "2", err.Error())}
	}
	return configResult("MOT", b.session.SetOperationTimeout(d))
}

func configResult(code string, err error) []string {
	switch {
	case err == nil:
		return []string{success(code)}
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		return []string{failure(code, "3", err.Error())}
	default:
		return []string{failure(code, "F", "Unknown error.")}
	}
}

// slotHandler queues every message for yield under slot.
func (b *Bridge) slotHandler(slot int) mqttcore.MessageHandler {
	return func(topic string, payload []byte) error {
		if !b.inbox.push(slot, string(payload)) {
			b.logWarn("bridge inbox full, dropped oldest message", "topic", topic)
		}
		return nil
	}
}

func parseQoS(s string) (byte, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 2 {
		return 0, errors.New("qos must be 0, 1 or 2")
	}
	return byte(v), nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, errors.New("flag must be 0 or 1")
	}
}

func parseSlot(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.New("slot must be a non-negative number")
	}
	return v, nil
}

// parseSeconds converts a decimal number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("seconds must be a number")
	}
	return time.Duration(v * float64(time.Second)), nil
}
