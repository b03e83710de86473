package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the TCP/TLS handshake inside paho.
	// mqttcore applies its own, usually shorter, wait on top.
	defaultConnectTimeout = 30 * time.Second

	// defaultPublishTimeout is the maximum time to wait for the offline status publish.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// websocketPath is the endpoint AWS IoT and most brokers serve MQTT over.
	websocketPath = "/mqtt"
)

// brokerURL returns the paho broker URL for an endpoint.
//
//	tcp://host:1883         plain TCP
//	ssl://host:8883         mutual TLS
//	wss://host:443/mqtt     websocket over TLS
func brokerURL(broker mqttcore.BrokerConfig) string {
	switch {
	case broker.Websocket:
		return fmt.Sprintf("wss://%s:%d%s", broker.Host, broker.Port, websocketPath)
	case broker.CAFile != "":
		return fmt.Sprintf("ssl://%s:%d", broker.Host, broker.Port)
	default:
		return fmt.Sprintf("tcp://%s:%d", broker.Host, broker.Port)
	}
}

// loadTLSConfig builds the TLS configuration for a broker.
//
// It returns nil for plain TCP. The client certificate pair is optional
// and ignored for websocket transport, which authenticates separately.
func loadTLSConfig(broker mqttcore.BrokerConfig) (*tls.Config, error) {
	if broker.CAFile == "" && !broker.Websocket {
		return nil, nil //nolint:nilnil // nil config selects plain TCP
	}

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: broker.Host,
	}

	if broker.CAFile != "" {
		pem, err := os.ReadFile(broker.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, broker.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if broker.Websocket {
		return tlsConfig, nil
	}

	if broker.CertFile != "" || broker.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(broker.CertFile, broker.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp://, ssl:// or wss://)
//   - Client ID and authentication credentials (if provided)
//   - Keepalive and clean session mode
//   - Last Will and Testament when the status topic is enabled
//   - Default publish handler feeding the adapter's route table
//
// Automatic reconnect and connect retry stay off; mqttcore drives both.
func (c *Client) buildClientOptions(broker mqttcore.BrokerConfig, tlsConfig *tls.Config, keepAlive time.Duration, gen uint64) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(broker))
	opts.SetClientID(c.clientID)

	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	opts.SetCleanSession(c.cfg.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	if keepAlive > 0 {
		opts.SetKeepAlive(keepAlive)
	}

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	if c.cfg.StatusTopic {
		configureLWT(opts, c.clientID)
	}

	// Handlers may publish or block on application work.
	opts.SetOrderMatters(false)
	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(gen, err)
	})

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: graylogic/edge/{client_id}/status
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(StatusTopic(clientID), willPayload, 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
