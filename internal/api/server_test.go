package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type published struct {
	topic   string
	payload string
	qos     byte
	retain  bool
}

// fakeSession records publishes and returns a canned status.
type fakeSession struct {
	mu         sync.Mutex
	connected  bool
	status     mqttcore.Status
	publishErr error
	published  []published
}

func (f *fakeSession) Status() mqttcore.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, string(payload), qos, retain})
	return nil
}

func testServer(t *testing.T, secret string) (*Server, *fakeSession) {
	t.Helper()

	session := &fakeSession{
		connected: true,
		status: mqttcore.Status{
			ClientID:         "edge-test",
			State:            "connected",
			QueueLen:         2,
			QueueMaxSize:     100,
			DropPolicy:       "drop_oldest",
			DrainingComplete: true,
			Subscriptions:    []string{"cmd/#"},
			Backoff:          1500 * time.Millisecond,
		},
	}
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:      "127.0.0.1",
			Port:      0,
			JWTSecret: secret,
			Timeouts:  config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:  log,
		Session: session,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, session
}

func do(t *testing.T, srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{Session: &fakeSession{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without session should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv, http.MethodGet, "/api/v1/health", "", map[string]string{"X-Request-ID": "abc-123"})
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv, http.MethodGet, "/api/v1/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var got StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ClientID != "edge-test" || got.State != "connected" || !got.Connected {
		t.Errorf("identity fields = %+v", got)
	}
	if got.QueueLen != 2 || got.QueueMaxSize != 100 || got.DropPolicy != "drop_oldest" {
		t.Errorf("queue fields = %+v", got)
	}
	if !got.DrainingComplete || len(got.Subscriptions) != 1 || got.BackoffMS != 1500 {
		t.Errorf("session fields = %+v", got)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Runtime.Goroutines == 0 || got.MQTT.Subscriptions != 1 || got.MQTT.QueueLen != 2 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestPublish(t *testing.T) {
	srv, session := testServer(t, "")
	w := do(t, srv, http.MethodPost, "/api/v1/publish",
		`{"topic":"sensors/temp","payload":"{\"temp\":21.5}","qos":1,"retain":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if len(session.published) != 1 {
		t.Fatalf("%d publishes, want 1", len(session.published))
	}
	want := published{"sensors/temp", `{"temp":21.5}`, 1, true}
	if session.published[0] != want {
		t.Errorf("published %+v, want %+v", session.published[0], want)
	}
}

func TestPublishWhileOfflineIsQueued(t *testing.T) {
	srv, session := testServer(t, "")
	session.connected = false

	w := do(t, srv, http.MethodPost, "/api/v1/publish", `{"topic":"sensors/temp","payload":"1"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var got PublishResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Queued {
		t.Error("queued = false while offline")
	}
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `{"topic":`, nil, http.StatusBadRequest},
		{"missing topic", `{"payload":"x"}`, nil, http.StatusBadRequest},
		{"qos out of range", `{"topic":"a","qos":3}`, nil, http.StatusBadRequest},
		{"invalid argument", `{"topic":"a"}`, fmt.Errorf("%w: payload too large", mqttcore.ErrInvalidArgument), http.StatusBadRequest},
		{"queue full", `{"topic":"a"}`, mqttcore.ErrPublishQueueFull, http.StatusServiceUnavailable},
		{"closed", `{"topic":"a"}`, mqttcore.ErrClosed, http.StatusServiceUnavailable},
		{"broker rejected", `{"topic":"a"}`, &mqttcore.ResultError{Kind: mqttcore.ErrPublish, Code: 4}, http.StatusBadGateway},
		{"unexpected", `{"topic":"a"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, session := testServer(t, "")
			session.publishErr = tt.err
			w := do(t, srv, http.MethodPost, "/api/v1/publish", tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
			var e Error
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Status != tt.want {
				t.Errorf("error body = %s", w.Body.String())
			}
		})
	}
}

func TestPublishRequiresToken(t *testing.T) {
	body := `{"topic":"sensors/temp","payload":"1"}`
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "another-secret", "panel", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "panel", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, "panel", time.Now().Add(time.Hour)), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, testSecret)
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			if w := do(t, srv, http.MethodPost, "/api/v1/publish", body, header); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Reads stay open with a secret configured.
	srv, _ := testServer(t, testSecret)
	if w := do(t, srv, http.MethodGet, "/api/v1/status", "", nil); w.Code != http.StatusOK {
		t.Errorf("status route = %d, want 200", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := testServer(t, "")
	if w := do(t, srv, http.MethodGet, "/api/v1/devices", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/publish", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, session := testServer(t, "")
	big := `{"topic":"a","payload":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	if w := do(t, srv, http.MethodPost, "/api/v1/publish", big, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(session.published) != 0 {
		t.Error("oversized body was published")
	}
}

func TestStartAndClose(t *testing.T) {
	srv, _ := testServer(t, "")
	ctx := context.Background()

	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
