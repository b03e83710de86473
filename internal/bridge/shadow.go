package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
	"github.com/nerrad567/gray-logic-edge/internal/shadow"
)

// thingSession is a shadow listener started by si.
type thingSession struct {
	store     *shadow.Store
	listener  *shadow.Listener
	deltaSlot int // -1 when no delta slot is registered
}

// cmdShadowInit: si <thing> <persistent_subscribe>. Subscriptions are
// always persistent; the flag is validated and otherwise ignored.
func (b *Bridge) cmdShadowInit(ctx context.Context, params []string) []string {
	thing := params[0]
	if _, err := parseFlag(params[1]); err != nil || thing == "" || b.repo == nil {
		return []string{"SI F"}
	}

	b.shadowMu.Lock()
	_, exists := b.things[thing]
	b.shadowMu.Unlock()
	if exists {
		return []string{success("SI")}
	}

	store, err := shadow.NewStore(ctx, b.repo, thing, b.historyLimit)
	if err != nil {
		b.logError("shadow store init failed", err)
		return []string{"SI F"}
	}
	listener := shadow.NewListener(b.session, store, 0, b.getLogger())
	listener.SetOnNotify(b.handleShadowNotification)
	if err := listener.Start(); err != nil {
		b.logError("shadow listener start failed", err)
		return []string{"SI F"}
	}

	b.shadowMu.Lock()
	b.things[thing] = &thingSession{store: store, listener: listener, deltaSlot: -1}
	b.shadowMu.Unlock()

	b.logInfo("shadow initialised", "thing", thing)
	return []string{success("SI")}
}

// cmdShadowRegisterDelta: s_rd <thing> <slot>.
func (b *Bridge) cmdShadowRegisterDelta(_ context.Context, params []string) []string {
	slot, err := parseSlot(params[1])
	if err != nil {
		return []string{failure("S_RD", "2", err.Error())}
	}

	b.shadowMu.Lock()
	defer b.shadowMu.Unlock()
	ts, ok := b.things[params[0]]
	if !ok {
		return []string{failure("S_RD", "1", "No shadow init.")}
	}
	ts.deltaSlot = slot
	return []string{success("S_RD")}
}

// cmdShadowUnregisterDelta: s_ud <thing>. Answers with the released slot.
func (b *Bridge) cmdShadowUnregisterDelta(_ context.Context, params []string) []string {
	b.shadowMu.Lock()
	defer b.shadowMu.Unlock()
	ts, ok := b.things[params[0]]
	if !ok {
		return []string{failure("S_UD", "1", "No shadow init.")}
	}
	if ts.deltaSlot < 0 {
		return []string{success("S_UD")}
	}
	slot := ts.deltaSlot
	ts.deltaSlot = -1
	return []string{"S_UD " + strconv.Itoa(slot)}
}

// cmdShadowGet: sg <thing> <slot> <timeout_seconds>.
func (b *Bridge) cmdShadowGet(_ context.Context, params []string) []string {
	return b.shadowRequest("SG", mqtt.ShadowGet, params[0], nil, params[1], params[2])
}

// cmdShadowUpdate: su <thing> <document> <slot> <timeout_seconds>.
func (b *Bridge) cmdShadowUpdate(_ context.Context, params []string) []string {
	if !json.Valid([]byte(params[1])) {
		return []string{failure("SU", "3", "Invalid JSON.")}
	}
	return b.shadowRequest("SU", mqtt.ShadowUpdate, params[0], json.RawMessage(params[1]), params[2], params[3])
}

// cmdShadowDelete: sd <thing> <slot> <timeout_seconds>.
func (b *Bridge) cmdShadowDelete(_ context.Context, params []string) []string {
	return b.shadowRequest("SD", mqtt.ShadowDelete, params[0], nil, params[1], params[2])
}

// shadowRequest publishes a shadow request and routes its response key to slot.
//
// Failure codes follow the client library: get and delete report publish
// errors as 5F and 6F, update as 6F and 7F after its 3F invalid-JSON code.
func (b *Bridge) shadowRequest(code, action, thing string, doc json.RawMessage, slotParam, timeoutParam string) []string {
	slot, err := parseSlot(slotParam)
	if err != nil {
		return []string{failure(code, "2", err.Error())}
	}
	timeout, err := parseSeconds(timeoutParam)
	if err != nil || timeout <= 0 {
		return []string{failure(code, "2", "timeout must be a positive number of seconds")}
	}

	publishFailed, queueFull := "5", "6"
	if action == mqtt.ShadowUpdate {
		publishFailed, queueFull = "6", "7"
	}

	// Hold the routing lock across the publish so a fast response cannot be
	// delivered before its slot is recorded.
	b.shadowMu.Lock()
	defer b.shadowMu.Unlock()

	ts, ok := b.things[thing]
	if !ok {
		return []string{failure(code, "1", "No shadow init.")}
	}

	token, err := ts.listener.Send(action, doc, timeout)
	switch {
	case err == nil:
		b.requests[token] = slot
		return []string{success(code)}
	case errors.Is(err, mqttcore.ErrInvalidArgument):
		if action == mqtt.ShadowUpdate {
			return []string{failure(code, "3", "Invalid JSON.")}
		}
		return []string{failure(code, "2", err.Error())}
	case errors.Is(err, mqttcore.ErrPublishQueueFull):
		return []string{failure(code, queueFull, err.Error())}
	case errors.Is(err, mqttcore.ErrPublish):
		return []string{failure(code, publishFailed, err.Error())}
	default:
		b.logError("shadow request failed", err)
		return []string{failure(code, "F", "Unknown error.")}
	}
}

// handleShadowNotification queues the key of a stored response for the
// slot waiting on it. Delta documents go to the thing's delta slot.
func (b *Bridge) handleShadowNotification(n shadow.Notification) {
	b.shadowMu.Lock()
	slot := -1
	if n.Kind == shadow.KindDelta {
		if ts, ok := b.things[n.Thing]; ok {
			slot = ts.deltaSlot
		}
	} else if s, ok := b.requests[n.ClientToken]; ok && n.ClientToken != "" {
		slot = s
		delete(b.requests, n.ClientToken)
	}
	if n.Key != shadow.TimeoutKey {
		b.keyThings[n.Key] = n.Thing
	}
	b.shadowMu.Unlock()

	if slot < 0 {
		b.logDebug("shadow response without waiting slot", "thing", n.Thing, "action", n.Action, "key", n.Key)
		return
	}
	if !b.inbox.push(slot, n.Key) {
		b.logWarn("bridge inbox full, dropped oldest message", "thing", n.Thing)
	}
}

// cmdJSONValue: j <json_key> <path> <is_first>.
//
// With is_first 1 the value at path in the document stored under json_key
// is looked up and its first chunk returned as "J <more> <data>". Later
// calls with is_first 0 return the remaining chunks, then "J F".
func (b *Bridge) cmdJSONValue(ctx context.Context, params []string) []string {
	first, err := parseFlag(params[2])
	if err != nil {
		return []string{failure("J", "2", err.Error())}
	}
	if b.repo == nil {
		return []string{failure("J", "1", "No setup.")}
	}

	b.shadowMu.Lock()
	defer b.shadowMu.Unlock()

	if first {
		lines, resp := b.lookupJSON(ctx, params[0], params[1])
		if resp != "" {
			b.jsonLines = nil
			return []string{resp}
		}
		b.jsonLines = lines
	}
	if len(b.jsonLines) == 0 {
		return []string{"J F"}
	}
	line := b.jsonLines[0]
	b.jsonLines = b.jsonLines[1:]
	return []string{line}
}

// lookupJSON returns the chunked value, or a failure response. Callers hold shadowMu.
func (b *Bridge) lookupJSON(ctx context.Context, key, path string) ([]string, string) {
	thing, ok := b.keyThings[key]
	if !ok {
		return nil, failure("J", "2", "No such JSON identifier.")
	}
	ts, ok := b.things[thing]
	if !ok {
		return nil, failure("J", "2", "No such JSON identifier.")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	doc, err := ts.store.Get(lookupCtx, key)
	if errors.Is(err, shadow.ErrNotFound) {
		return nil, failure("J", "2", "No such JSON identifier.")
	}
	if err != nil {
		b.logError("shadow document lookup failed", err)
		return nil, failure("J", "F", "Unknown error.")
	}

	value, err := shadow.ValueByKey(doc, path)
	if err != nil {
		return nil, failure("J", "3", "No such key.")
	}
	return framedChunks("J", value, b.chunkSize), ""
}
