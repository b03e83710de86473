//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// Integration tests for the paho adapter driven by mqttcore.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...
//
// Note: Some tests may be flaky in CI due to timing dependencies.
// Consider running with: go test -tags=integration -count=1 -v ...

func integrationCore(t *testing.T, clientID string) *mqttcore.Core {
	t.Helper()

	cfg := testConfig()
	wire := New(cfg, clientID)
	wire.SetLogger(&mockLogger{})

	opts := mqttcore.DefaultOptions(clientID)
	opts.Broker = mqttcore.BrokerConfig{Host: cfg.Broker.Host, Port: cfg.Broker.Port}
	opts.ConnectDisconnectTimeout = 5 * time.Second
	opts.DrainingInterval = 10 * time.Millisecond

	core, err := mqttcore.New(wire, opts)
	if err != nil {
		t.Fatalf("mqttcore.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = core.Disconnect()
		_ = core.Close()
	})
	return core
}

// TestIntegration_SubscriptionTracking verifies subscriptions are recorded
// for resubscription.
func TestIntegration_SubscriptionTracking(t *testing.T) {
	core := integrationCore(t, "graylogic-edge-int-sub-track")
	if err := core.Connect(time.Minute); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	topics := []string{
		"graylogic/int/test/topic1",
		"graylogic/int/test/topic2",
		"graylogic/int/test/topic3",
	}
	for _, topic := range topics {
		if err := core.Subscribe(topic, 1, nil); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if core.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", core.SubscriptionCount(), len(topics))
	}

	if err := core.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if core.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

// TestIntegration_MessageRoundtrip verifies pub/sub works end-to-end.
func TestIntegration_MessageRoundtrip(t *testing.T) {
	pub := integrationCore(t, "graylogic-edge-int-pub")
	sub := integrationCore(t, "graylogic-edge-int-sub")
	for _, c := range []*mqttcore.Core{pub, sub} {
		if err := c.Connect(time.Minute); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	topic := "graylogic/int/roundtrip"
	expected := "test-message-12345"

	received := make(chan string, 1)
	var once sync.Once
	err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := pub.PublishString(topic, expected, 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != expected {
			t.Errorf("Received = %q, want %q", msg, expected)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}

// TestIntegration_OfflineQueueDrains verifies messages published before
// connecting reach a subscriber once the session is up.
func TestIntegration_OfflineQueueDrains(t *testing.T) {
	sub := integrationCore(t, "graylogic-edge-int-drain-sub")
	if err := sub.Connect(time.Minute); err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}

	topic := "graylogic/int/drain"
	received := make(chan string, 3)
	if err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		received <- string(p)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pub := integrationCore(t, "graylogic-edge-int-drain-pub")
	for _, msg := range []string{"one", "two", "three"} {
		if err := pub.PublishString(topic, msg, 1, false); err != nil {
			t.Fatalf("PublishString(%s) while offline error = %v", msg, err)
		}
	}
	if pub.QueueLen() != 3 {
		t.Fatalf("QueueLen() = %d, want 3", pub.QueueLen())
	}

	if err := pub.Connect(time.Minute); err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("Received = %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for %q", want)
		}
	}
}

// TestIntegration_RefusedBroker verifies a closed port reports a failed connect.
func TestIntegration_RefusedBroker(t *testing.T) {
	wire := New(config.MQTTConfig{CleanSession: true}, "graylogic-edge-int-refused")
	opts := mqttcore.DefaultOptions("graylogic-edge-int-refused")
	opts.Broker = mqttcore.BrokerConfig{Host: "127.0.0.1", Port: 1}
	opts.ConnectDisconnectTimeout = 2 * time.Second
	opts.AutoReconnect = false

	core, err := mqttcore.New(wire, opts)
	if err != nil {
		t.Fatalf("mqttcore.New() error = %v", err)
	}
	defer core.Close()

	if err := core.Connect(time.Minute); err == nil {
		t.Fatal("Connect() to closed port succeeded")
	}
	if core.IsConnected() {
		t.Error("IsConnected() = true after refused connect")
	}
}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
