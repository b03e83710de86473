package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Edge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Shadow   ShadowConfig   `yaml:"shadow"`
	Database DatabaseConfig `yaml:"database"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies this device to the broker.
type DeviceConfig struct {
	// ID is the MQTT client ID. Generated when empty.
	ID string `yaml:"id"`

	// ThingName is the shadow document owner. Defaults to ID.
	ThingName string `yaml:"thing_name"`
}

// MQTTConfig contains MQTT session settings.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig `yaml:"broker"`
	Auth         MQTTAuthConfig   `yaml:"auth"`
	CleanSession bool             `yaml:"clean_session"`
	KeepAlive    time.Duration    `yaml:"keepalive"`

	// ConnectDisconnectTimeout bounds Connect and Disconnect.
	// Zero means check once without waiting.
	ConnectDisconnectTimeout time.Duration `yaml:"connect_disconnect_timeout"`

	// OperationTimeout bounds Subscribe and Unsubscribe.
	// Zero means check once without waiting.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	DrainingInterval time.Duration     `yaml:"draining_interval"`
	OfflineQueue     OfflineQueueConfig `yaml:"offline_queue"`
	Backoff          BackoffConfig      `yaml:"backoff"`
	AutoReconnect    bool               `yaml:"auto_reconnect"`

	// StatusTopic enables the retained online/offline status message and
	// its Last Will counterpart.
	StatusTopic bool `yaml:"status_topic"`
}

// MQTTBrokerConfig contains the broker endpoint and TLS material.
type MQTTBrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	CAFile    string `yaml:"ca_file"`
	CertFile  string `yaml:"cert_file"`
	KeyFile   string `yaml:"key_file"`
	Websocket bool   `yaml:"websocket"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// OfflineQueueConfig bounds the offline publish queue.
type OfflineQueueConfig struct {
	// Size is the queue bound. 0 means unlimited.
	Size int `yaml:"size"`

	// DropPolicy is "drop_oldest" or "drop_newest".
	DropPolicy string `yaml:"drop_policy"`
}

// BackoffConfig contains progressive reconnect timings.
type BackoffConfig struct {
	Base      time.Duration `yaml:"base"`
	Max       time.Duration `yaml:"max"`
	MinStable time.Duration `yaml:"min_stable"`
}

// ShadowConfig contains device shadow settings.
type ShadowConfig struct {
	Enabled bool `yaml:"enabled"`

	// HistoryLimit bounds stored documents. 0 means unlimited, otherwise at least 3.
	HistoryLimit int `yaml:"history_limit"`

	// Persist stores documents in SQLite instead of memory.
	Persist bool `yaml:"persist"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BridgeConfig contains serial command bridge settings.
type BridgeConfig struct {
	Enabled bool `yaml:"enabled"`

	// Device is a serial device path. Empty uses stdin/stdout.
	Device string `yaml:"device"`

	ChunkSize     int           `yaml:"chunk_size"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
}

// APIConfig contains the local HTTP API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	JWTSecret string           `yaml:"jwt_secret"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// QueueInterval is how often the offline queue length is sampled.
	QueueInterval time.Duration `yaml:"queue_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_EDGE_SECTION_KEY
// For example: GRAYLOGIC_EDGE_MQTT_HOST, GRAYLOGIC_EDGE_API_PORT
//
// An empty device.id is replaced by "graylogic-edge-<uuid>" so every
// device presents a distinct MQTT client ID.
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			CleanSession:             true,
			KeepAlive:                60 * time.Second,
			ConnectDisconnectTimeout: 30 * time.Second,
			OperationTimeout:         5 * time.Second,
			DrainingInterval:         500 * time.Millisecond,
			OfflineQueue: OfflineQueueConfig{
				Size:       20,
				DropPolicy: "drop_newest",
			},
			Backoff: BackoffConfig{
				Base:      1 * time.Second,
				Max:       32 * time.Second,
				MinStable: 20 * time.Second,
			},
			AutoReconnect: true,
			StatusTopic:   true,
		},
		Shadow: ShadowConfig{
			HistoryLimit: 0,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-edge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Bridge: BridgeConfig{
			ChunkSize:     50,
			AcceptTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			QueueInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_EDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("GRAYLOGIC_EDGE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_THING_NAME"); v != "" {
		cfg.Device.ThingName = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_CA_FILE"); v != "" {
		cfg.MQTT.Broker.CAFile = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_CERT_FILE"); v != "" {
		cfg.MQTT.Broker.CertFile = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_KEY_FILE"); v != "" {
		cfg.MQTT.Broker.KeyFile = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_EDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_EDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_EDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_EDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// fillDerived sets values that depend on other fields.
func (c *Config) fillDerived() {
	if c.Device.ID == "" {
		c.Device.ID = "graylogic-edge-" + uuid.NewString()
	}
	if c.Device.ThingName == "" {
		c.Device.ThingName = c.Device.ID
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every one of them.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// MQTT validation
	m := c.MQTT
	if m.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if (m.Broker.CertFile == "") != (m.Broker.KeyFile == "") {
		errs = append(errs, "mqtt.broker.cert_file and mqtt.broker.key_file must be set together")
	}
	if m.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive must not be negative")
	}
	if m.ConnectDisconnectTimeout < 0 || m.OperationTimeout < 0 {
		errs = append(errs, "mqtt timeouts must not be negative")
	}
	if m.DrainingInterval < 0 {
		errs = append(errs, "mqtt.draining_interval must not be negative")
	}
	if m.OfflineQueue.Size < 0 {
		errs = append(errs, "mqtt.offline_queue.size must not be negative")
	}
	if !validDropPolicy(m.OfflineQueue.DropPolicy) {
		errs = append(errs, "mqtt.offline_queue.drop_policy must be drop_oldest or drop_newest")
	}
	if m.Backoff.Base <= 0 {
		errs = append(errs, "mqtt.backoff.base must be positive")
	}
	if m.Backoff.Max < m.Backoff.Base {
		errs = append(errs, "mqtt.backoff.max must not be shorter than mqtt.backoff.base")
	}
	if m.Backoff.Base >= m.Backoff.MinStable {
		errs = append(errs, "mqtt.backoff.min_stable must be longer than mqtt.backoff.base")
	}

	// Shadow validation
	if c.Shadow.Enabled {
		if c.Shadow.HistoryLimit != 0 && c.Shadow.HistoryLimit < 3 {
			errs = append(errs, "shadow.history_limit must be 0 (unlimited) or at least 3")
		}
		if c.Shadow.Persist && c.Database.Path == "" {
			errs = append(errs, "database.path is required when shadow.persist is set")
		}
	}

	// Bridge validation
	if c.Bridge.Enabled {
		if c.Bridge.ChunkSize <= 0 {
			errs = append(errs, "bridge.chunk_size must be positive")
		}
		if c.Bridge.AcceptTimeout <= 0 {
			errs = append(errs, "bridge.accept_timeout must be positive")
		}
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		const minJWTSecretLength = 32
		if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
			errs = append(errs, "api.jwt_secret must be at least 32 characters for adequate security")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validDropPolicy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop_oldest", "oldest", "0", "drop_newest", "newest", "1":
		return true
	}
	return false
}

// TLSEnabled reports whether the broker connection uses TLS.
func (m MQTTConfig) TLSEnabled() bool {
	return m.Broker.CAFile != "" || m.Broker.CertFile != "" || m.Broker.Websocket
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
