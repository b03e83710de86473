package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config", err)
	}
}

// TestRun_ValidationFailure verifies configuration errors stop startup.
func TestRun_ValidationFailure(t *testing.T) {
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", writeConfig(t, `
mqtt:
  broker:
    host: ""
    port: 70000
`))

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail validation")
	}
}

// TestRun_ShutdownOnCancel starts with only the in-memory shadow enabled
// and stops when the context ends.
func TestRun_ShutdownOnCancel(t *testing.T) {
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", writeConfig(t, `
device:
  id: edge-test
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
  connect_disconnect_timeout: 100ms
  auto_reconnect: false
shadow:
  enabled: true
logging:
  level: error
  output: stderr
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestRun_PersistentShadow opens and migrates the SQLite store.
func TestRun_PersistentShadow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "edge.db")
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", writeConfig(t, `
device:
  id: edge-test
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
  connect_disconnect_timeout: 100ms
  auto_reconnect: false
shadow:
  enabled: true
  persist: true
  history_limit: 9
database:
  path: `+dbPath+`
logging:
  level: error
  output: stderr
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", "/etc/edge.yaml")
	if got := getConfigPath(); got != "/etc/edge.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/edge.yaml", got)
	}
}

func TestCoreOptions(t *testing.T) {
	cfg := &config.Config{
		Device: config.DeviceConfig{ID: "edge-1"},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{
				Host:     "broker.local",
				Port:     8883,
				CAFile:   "ca.pem",
				CertFile: "cert.pem",
				KeyFile:  "key.pem",
			},
			KeepAlive:                45 * time.Second,
			ConnectDisconnectTimeout: 3 * time.Second,
			OperationTimeout:         2 * time.Second,
			DrainingInterval:         250 * time.Millisecond,
			OfflineQueue:             config.OfflineQueueConfig{Size: 7, DropPolicy: "drop_oldest"},
			Backoff:                  config.BackoffConfig{Base: time.Second, Max: 8 * time.Second, MinStable: 10 * time.Second},
			AutoReconnect:            true,
		},
	}

	opts, err := coreOptions(cfg, logging.Default())
	if err != nil {
		t.Fatalf("coreOptions() error = %v", err)
	}
	if opts.ClientID != "edge-1" || opts.Broker.Host != "broker.local" || opts.Broker.Port != 8883 {
		t.Errorf("identity = %+v", opts)
	}
	if opts.Broker.CAFile != "ca.pem" || opts.Broker.CertFile != "cert.pem" || opts.Broker.KeyFile != "key.pem" {
		t.Errorf("tls = %+v", opts.Broker)
	}
	if opts.QueueSize != 7 || opts.DropPolicy != mqttcore.DropOldest {
		t.Errorf("queue = %d %v", opts.QueueSize, opts.DropPolicy)
	}
	if opts.KeepAlive != 45*time.Second || opts.DrainingInterval != 250*time.Millisecond {
		t.Errorf("timings = %v %v", opts.KeepAlive, opts.DrainingInterval)
	}
	if opts.BaseReconnect != time.Second || opts.MaxReconnect != 8*time.Second || opts.MinStableConnect != 10*time.Second {
		t.Errorf("backoff = %v %v %v", opts.BaseReconnect, opts.MaxReconnect, opts.MinStableConnect)
	}

	cfg.MQTT.OfflineQueue.DropPolicy = "sometimes"
	if _, err := coreOptions(cfg, logging.Default()); err == nil {
		t.Error("coreOptions() with bad drop policy should fail")
	}
}
