package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

const (
	shadowQoS = 0

	// DefaultRequestTimeout is how long Update, Get and Delete wait for an
	// accepted or rejected response before reporting TimeoutKey.
	DefaultRequestTimeout = 5 * time.Second
)

// Client is the part of mqttcore.Core the listener needs.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, qos byte, handler mqttcore.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the listener.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Notification reports a stored shadow response.
type Notification struct {
	Thing       string
	Action      string // update, get or delete
	Kind        Kind   // empty for a timed-out request
	Key         string
	ClientToken string
}

// Listener connects a Store to the AWS IoT shadow topics of one thing.
//
// It stores every accepted, rejected and delta response it receives and
// reports the resulting key. Requests it publishes carry a fresh clientToken;
// when no matching response arrives within the request timeout it reports
// TimeoutKey instead.
type Listener struct {
	client  Client
	store   *Store
	timeout time.Duration
	logger  Logger

	onNotify func(Notification)
	notifyMu sync.RWMutex

	// pending maps clientToken to the timer that reports its timeout.
	pending   map[string]*time.Timer
	pendingMu sync.Mutex

	started []string
	startMu sync.Mutex
}

// NewListener creates a listener for store's thing. A zero timeout uses
// DefaultRequestTimeout.
func NewListener(client Client, store *Store, timeout time.Duration, logger Logger) *Listener {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listener{
		client:  client,
		store:   store,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// SetOnNotify sets the callback invoked for every stored response and timeout.
func (l *Listener) SetOnNotify(fn func(Notification)) {
	l.notifyMu.Lock()
	l.onNotify = fn
	l.notifyMu.Unlock()
}

func (l *Listener) notify(n Notification) {
	l.notifyMu.RLock()
	fn := l.onNotify
	l.notifyMu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// responseTopics lists every topic the listener subscribes to.
func (l *Listener) responseTopics() []string {
	thing := l.store.Thing()
	return []string{
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowUpdate, mqtt.ShadowAccepted),
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowUpdate, mqtt.ShadowRejected),
		mqtt.ShadowDeltaTopic(thing),
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowGet, mqtt.ShadowAccepted),
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowGet, mqtt.ShadowRejected),
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowDelete, mqtt.ShadowAccepted),
		mqtt.ShadowResponseTopic(thing, mqtt.ShadowDelete, mqtt.ShadowRejected),
	}
}

// Start subscribes to the shadow response topics. On failure the topics
// already subscribed are unsubscribed again.
func (l *Listener) Start() error {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.started != nil {
		return ErrListenerStarted
	}

	var done []string
	for _, topic := range l.responseTopics() {
		if err := l.client.Subscribe(topic, shadowQoS, l.handleResponse); err != nil {
			for _, t := range done {
				_ = l.client.Unsubscribe(t) //nolint:errcheck // best effort rollback
			}
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
		done = append(done, topic)
	}
	l.started = done
	return nil
}

// Stop unsubscribes and cancels outstanding request timers.
func (l *Listener) Stop() error {
	l.startMu.Lock()
	topics := l.started
	l.started = nil
	l.startMu.Unlock()

	l.pendingMu.Lock()
	for token, timer := range l.pending {
		timer.Stop()
		delete(l.pending, token)
	}
	l.pendingMu.Unlock()

	var firstErr error
	for _, topic := range topics {
		if err := l.client.Unsubscribe(topic); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribing %s: %w", topic, err)
		}
	}
	return firstErr
}

// Update publishes a shadow update. state is the JSON value placed under
// "state", e.g. {"reported":{"temp":21}}. It returns the clientToken.
func (l *Listener) Update(state json.RawMessage) (string, error) {
	if !json.Valid(state) {
		return "", fmt.Errorf("%w: state is not valid JSON", mqttcore.ErrInvalidArgument)
	}
	return l.request(mqtt.ShadowUpdate, map[string]json.RawMessage{"state": state}, 0)
}

// Get requests the current shadow document.
func (l *Listener) Get() (string, error) {
	return l.request(mqtt.ShadowGet, nil, 0)
}

// Delete requests deletion of the shadow document.
func (l *Listener) Delete() (string, error) {
	return l.request(mqtt.ShadowDelete, nil, 0)
}

// Send publishes a complete request document for action, adding a fresh
// clientToken. document may be empty; otherwise it must be a JSON object.
// A timeout of zero or less uses the listener's request timeout.
func (l *Listener) Send(action string, document json.RawMessage, timeout time.Duration) (string, error) {
	switch action {
	case mqtt.ShadowUpdate, mqtt.ShadowGet, mqtt.ShadowDelete:
	default:
		return "", fmt.Errorf("%w: unknown shadow action %q", mqttcore.ErrInvalidArgument, action)
	}

	var body map[string]json.RawMessage
	if len(document) > 0 {
		if err := json.Unmarshal(document, &body); err != nil {
			return "", fmt.Errorf("%w: shadow document is not a JSON object", mqttcore.ErrInvalidArgument)
		}
	}
	return l.request(action, body, timeout)
}

func (l *Listener) request(action string, body map[string]json.RawMessage, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = l.timeout
	}
	if body == nil {
		body = make(map[string]json.RawMessage, 1)
	}

	token := uuid.NewString()
	encodedToken, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encoding shadow %s: %w", action, err)
	}
	body["clientToken"] = encodedToken
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding shadow %s: %w", action, err)
	}

	l.pendingMu.Lock()
	l.pending[token] = time.AfterFunc(timeout, func() { l.expire(action, token) })
	l.pendingMu.Unlock()

	topic := mqtt.ShadowTopic(l.store.Thing(), action)
	if err := l.client.Publish(topic, payload, shadowQoS, false); err != nil {
		l.settle(token)
		return "", fmt.Errorf("publishing shadow %s: %w", action, err)
	}
	return token, nil
}

// settle stops the timeout for token and reports whether it was pending.
func (l *Listener) settle(token string) bool {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	timer, ok := l.pending[token]
	if ok {
		timer.Stop()
		delete(l.pending, token)
	}
	return ok
}

func (l *Listener) expire(action, token string) {
	if !l.settle(token) {
		return
	}
	key, _ := l.store.Put(context.Background(), TimeoutPayload, KindAccepted) //nolint:errcheck // timeout is never stored
	l.logger.Warn("shadow request timed out", "thing", l.store.Thing(), "action", action, "client_token", token)
	l.notify(Notification{
		Thing:       l.store.Thing(),
		Action:      action,
		Key:         key,
		ClientToken: token,
	})
}

// handleResponse is the MessageHandler for every response topic:
// $aws/things/<thing>/shadow/<action>/<kind>.
func (l *Listener) handleResponse(topic string, payload []byte) error {
	action, kind, err := l.parseResponseTopic(topic)
	if err != nil {
		return err
	}

	var envelope struct {
		ClientToken string `json:"clientToken"`
	}
	_ = json.Unmarshal(payload, &envelope) //nolint:errcheck // token is optional
	if envelope.ClientToken != "" {
		l.settle(envelope.ClientToken)
	}

	key, err := l.store.Put(context.Background(), string(payload), kind)
	if err != nil {
		return fmt.Errorf("storing shadow %s/%s: %w", action, kind, err)
	}
	l.logger.Debug("shadow response stored", "thing", l.store.Thing(), "action", action, "kind", kind, "key", key)

	l.notify(Notification{
		Thing:       l.store.Thing(),
		Action:      action,
		Kind:        kind,
		Key:         key,
		ClientToken: envelope.ClientToken,
	})
	return nil
}

func (l *Listener) parseResponseTopic(topic string) (action string, kind Kind, err error) {
	prefix := mqtt.TopicPrefixShadow + "/" + l.store.Thing() + "/shadow/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", "", fmt.Errorf("unexpected shadow topic %q", topic)
	}
	action, k, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("unexpected shadow topic %q", topic)
	}
	kind = Kind(k)
	if _, err := kind.offset(); err != nil {
		return "", "", err
	}
	return action, kind, nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
