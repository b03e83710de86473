package mqtt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		CleanSession: true,
		StatusTopic:  true,
	}
}

// writeTestCertificate writes a self-signed certificate and its key as PEM
// files and returns their paths.
func writeTestCertificate(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "graylogic-edge-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "device.pem.crt")
	keyFile = filepath.Join(dir, "device.pem.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/x/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a", false},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+/+", "a/b", true},
		{"+", "a/b", false},
		{"a/#/c", "a/b/c", false},
		{"#", "$aws/things/x/shadow/get", false},
		{"+/things/x/shadow/get", "$aws/things/x/shadow/get", false},
		{"$aws/things/x/shadow/get/+", "$aws/things/x/shadow/get/accepted", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := matchTopic(tt.filter, tt.topic); got != tt.want {
				t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestRouterDispatch(t *testing.T) {
	r := newRouter()
	var got []string
	r.add("sensors/+/temp", func(topic string, _ []byte) { got = append(got, "temp:"+topic) })
	r.add("sensors/#", func(topic string, _ []byte) { got = append(got, "all:"+topic) })

	if !r.dispatch("sensors/kitchen/temp", nil) {
		t.Fatal("dispatch() = false, want true")
	}
	if len(got) != 2 {
		t.Errorf("dispatch invoked %d callbacks, want 2: %v", len(got), got)
	}

	r.remove("sensors/#")
	got = nil
	if r.dispatch("sensors/kitchen/humidity", nil) {
		t.Errorf("dispatch() = true after removing wildcard route, callbacks %v", got)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		broker mqttcore.BrokerConfig
		want   string
	}{
		{"plain", mqttcore.BrokerConfig{Host: "localhost", Port: 1883}, "tcp://localhost:1883"},
		{"mutual tls", mqttcore.BrokerConfig{Host: "iot.example.com", Port: 8883, CAFile: "/ca.pem"}, "ssl://iot.example.com:8883"},
		{"websocket", mqttcore.BrokerConfig{Host: "iot.example.com", Port: 443, CAFile: "/ca.pem", Websocket: true}, "wss://iot.example.com:443/mqtt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := brokerURL(tt.broker); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadTLSConfig_PlainTCP(t *testing.T) {
	cfg, err := loadTLSConfig(mqttcore.BrokerConfig{Host: "localhost", Port: 1883})
	if err != nil {
		t.Fatalf("loadTLSConfig() error = %v", err)
	}
	if cfg != nil {
		t.Error("loadTLSConfig() returned a TLS config for plain TCP")
	}
}

func TestLoadTLSConfig_MutualTLS(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)

	cfg, err := loadTLSConfig(mqttcore.BrokerConfig{
		Host:     "iot.example.com",
		Port:     8883,
		CAFile:   certFile,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("loadTLSConfig() error = %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.ServerName != "iot.example.com" {
		t.Errorf("ServerName = %q, want broker host", cfg.ServerName)
	}
}

func TestLoadTLSConfig_WebsocketIgnoresClientCert(t *testing.T) {
	certFile, _ := writeTestCertificate(t)

	cfg, err := loadTLSConfig(mqttcore.BrokerConfig{
		Host:      "iot.example.com",
		Port:      443,
		CAFile:    certFile,
		CertFile:  "/does/not/exist.crt",
		KeyFile:   "/does/not/exist.key",
		Websocket: true,
	})
	if err != nil {
		t.Fatalf("loadTLSConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 0 {
		t.Error("websocket transport loaded a client certificate")
	}
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		broker mqttcore.BrokerConfig
	}{
		{"missing CA", mqttcore.BrokerConfig{Host: "h", Port: 8883, CAFile: "/does/not/exist.pem"}},
		{"CA without certificates", mqttcore.BrokerConfig{Host: "h", Port: 8883, CAFile: garbage}},
		{"key mismatch", mqttcore.BrokerConfig{Host: "h", Port: 8883, CAFile: certFile, CertFile: certFile, KeyFile: garbage}},
		{"cert without key", mqttcore.BrokerConfig{Host: "h", Port: 8883, CAFile: certFile, KeyFile: keyFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTLSConfig(tt.broker)
			if !errors.Is(err, ErrTLSConfig) {
				t.Errorf("loadTLSConfig() error = %v, want ErrTLSConfig", err)
			}
		})
	}
}

func TestConfigureTLS_RejectsBadMaterial(t *testing.T) {
	c := New(testConfig(), "device-001")
	err := c.ConfigureTLS(mqttcore.BrokerConfig{Host: "h", Port: 8883, CAFile: "/does/not/exist.pem"})
	if !errors.Is(err, ErrTLSConfig) {
		t.Errorf("ConfigureTLS() error = %v, want ErrTLSConfig", err)
	}
}

func TestConnectAsync_InvalidBroker(t *testing.T) {
	c := New(testConfig(), "device-001")

	for _, tc := range []struct {
		host string
		port int
	}{{"", 1883}, {"localhost", 0}, {"localhost", 70000}} {
		if err := c.ConnectAsync(tc.host, tc.port, time.Minute); !errors.Is(err, ErrInvalidBroker) {
			t.Errorf("ConnectAsync(%q, %d) error = %v, want ErrInvalidBroker", tc.host, tc.port, err)
		}
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	c := New(testConfig(), "device-001")

	if rc, _ := c.Publish("a/b", []byte("x"), 1, false); rc != rcNoConnection {
		t.Errorf("Publish() rc = %d, want %d", rc, rcNoConnection)
	}
	if rc, _ := c.Subscribe("a/b", 1); rc != rcNoConnection {
		t.Errorf("Subscribe() rc = %d, want %d", rc, rcNoConnection)
	}
	if rc, _ := c.Unsubscribe("a/b"); rc != rcNoConnection {
		t.Errorf("Unsubscribe() rc = %d, want %d", rc, rcNoConnection)
	}
	if err := c.DisconnectAsync(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("DisconnectAsync() error = %v, want ErrNotConnected", err)
	}
	if err := c.StartNetworkLoop(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartNetworkLoop() error = %v, want ErrNotConnected", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before connect")
	}

	// Must not panic without a client.
	c.StopNetworkLoop()
}

func TestHealthCheck(t *testing.T) {
	c := New(testConfig(), "device-001")

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestResultCode(t *testing.T) {
	if got := resultCode(nil); got != rcSuccess {
		t.Errorf("resultCode(nil) = %d, want 0", got)
	}
	if got := resultCode(pahomqtt.ErrNotConnected); got != rcNoConnection {
		t.Errorf("resultCode(ErrNotConnected) = %d, want %d", got, rcNoConnection)
	}
	if got := resultCode(errors.New("boom")); got != rcRequestFailed {
		t.Errorf("resultCode(other) = %d, want %d", got, rcRequestFailed)
	}
}

func TestNextIDSkipsZero(t *testing.T) {
	c := New(testConfig(), "device-001")
	c.lastID.Store(0xFFFF)
	if id := c.nextID(); id != 1 {
		t.Errorf("nextID() after wrap = %d, want 1", id)
	}
}

func TestMessageFallsBackToCallbacks(t *testing.T) {
	c := New(testConfig(), "device-001")
	var routed, fallback string
	c.SetCallbacks(mqttcore.Callbacks{
		OnMessage: func(topic string, _ []byte) { fallback = topic },
	})
	c.RegisterMessageCallback("cmd/+", func(topic string, _ []byte) { routed = topic })

	c.handleMessage(nil, fakeMessage{topic: "cmd/reboot"})
	c.handleMessage(nil, fakeMessage{topic: "other/topic"})

	if routed != "cmd/reboot" {
		t.Errorf("routed = %q, want cmd/reboot", routed)
	}
	if fallback != "other/topic" {
		t.Errorf("fallback = %q, want other/topic", fallback)
	}

	c.RemoveMessageCallback("cmd/+")
	c.handleMessage(nil, fakeMessage{topic: "cmd/reboot"})
	if fallback != "cmd/reboot" {
		t.Errorf("after RemoveMessageCallback fallback = %q, want cmd/reboot", fallback)
	}
}

func TestStaleConnectionLostIgnored(t *testing.T) {
	c := New(testConfig(), "device-001")
	var calls int
	c.SetCallbacks(mqttcore.Callbacks{OnDisconnect: func(int) { calls++ }})

	c.handleConnectionLost(c.generation, errors.New("reset"))
	c.StopNetworkLoop()
	c.handleConnectionLost(0, errors.New("reset"))

	if calls != 1 {
		t.Errorf("OnDisconnect calls = %d, want 1", calls)
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{StatusTopic("thermostat-01"), "graylogic/edge/thermostat-01/status"},
		{ShadowTopic("thermostat-01", ShadowUpdate), "$aws/things/thermostat-01/shadow/update"},
		{ShadowResponseTopic("thermostat-01", ShadowGet, ShadowAccepted), "$aws/things/thermostat-01/shadow/get/accepted"},
		{ShadowResponseTopic("thermostat-01", ShadowDelete, ShadowRejected), "$aws/things/thermostat-01/shadow/delete/rejected"},
		{ShadowDeltaTopic("thermostat-01"), "$aws/things/thermostat-01/shadow/update/delta"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("device-001")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"device-001"`) {
		t.Errorf("online payload = %s", online)
	}
	offline := buildOfflinePayload("device-001")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "edge"
	cfg.Auth.Password = "secret"
	c := New(cfg, "device-001")

	opts := c.buildClientOptions(mqttcore.BrokerConfig{Host: "localhost", Port: 1883}, nil, 45*time.Second, 1)

	if opts.AutoReconnect {
		t.Error("AutoReconnect enabled, mqttcore owns reconnection")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry enabled")
	}
	if opts.ClientID != "device-001" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "edge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.KeepAlive != 45 {
		t.Errorf("KeepAlive = %d, want 45", opts.KeepAlive)
	}
	if !opts.WillEnabled || opts.WillTopic != "graylogic/edge/device-001/status" {
		t.Errorf("will = %v %q", opts.WillEnabled, opts.WillTopic)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (fakeMessage) Duplicate() bool   { return false }
func (fakeMessage) Qos() byte         { return 0 }
func (fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string   { return m.topic }
func (fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (fakeMessage) Ack()              {}
