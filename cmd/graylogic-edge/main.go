// Gray Logic Edge - MQTT runtime for field devices
//
// This is the main entry point for the Gray Logic Edge application. It keeps
// one MQTT session alive for a device, queues publishes while the broker is
// unreachable and exposes the session to a microcontroller over a serial
// line protocol and to local tools over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/api"
	"github.com/nerrad567/gray-logic-edge/internal/bridge"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
	"github.com/nerrad567/gray-logic-edge/internal/shadow"
	"github.com/nerrad567/gray-logic-edge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Bridge responses own stdout.
	if cfg.Bridge.Enabled && cfg.Bridge.Device == "" {
		cfg.Logging.Output = "stderr"
	}
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"device_id", cfg.Device.ID,
	)

	// Shadow document storage
	var repo shadow.Repository
	var db *database.DB
	if cfg.Shadow.Enabled {
		if cfg.Shadow.Persist {
			db, err = openDatabase(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				log.Info("closing database")
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing database", "error", closeErr)
				}
			}()
			repo = shadow.NewSQLiteRepository(db)
		} else {
			repo = shadow.NewMemoryRepository()
		}
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT session
	wire := mqtt.New(cfg.MQTT, cfg.Device.ID)
	wire.SetLogger(log.Component("mqtt"))

	opts, err := coreOptions(cfg, log.Component("mqttcore"))
	if err != nil {
		return err
	}
	if influxClient != nil {
		opts.OnEvent = influxClient.RecordEvent
	}
	core, err := mqttcore.New(wire, opts)
	if err != nil {
		return fmt.Errorf("creating mqtt core: %w", err)
	}
	defer func() {
		log.Info("closing MQTT session")
		if core.IsConnected() {
			if discErr := core.Disconnect(); discErr != nil {
				log.Warn("error disconnecting from MQTT", "error", discErr)
			}
		}
		if closeErr := core.Close(); closeErr != nil {
			log.Error("error closing MQTT core", "error", closeErr)
		}
	}()

	if influxClient != nil {
		samplerCtx, stopSampler := context.WithCancel(ctx)
		defer stopSampler()
		go influxClient.RunQueueSampler(samplerCtx, core)
	}

	// With the bridge enabled the microcontroller issues connect itself.
	if !cfg.Bridge.Enabled {
		connect(core, cfg, log)
	}

	// Device shadow for the configured thing when no bridge manages shadows
	if cfg.Shadow.Enabled && !cfg.Bridge.Enabled {
		stopShadow, shadowErr := startShadow(ctx, core, repo, cfg, log)
		if shadowErr != nil {
			return shadowErr
		}
		defer stopShadow()
	}

	// Local HTTP API
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Session: core,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Serial command bridge
	var bridgeDone <-chan error
	if cfg.Bridge.Enabled {
		b, stopBridge, bridgeErr := startBridge(ctx, core, repo, cfg, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer stopBridge()
		bridgeDone = b
	} else {
		log.Info("bridge disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-bridgeDone:
		if err != nil {
			log.Error("bridge stopped", "error", err)
		} else {
			log.Info("bridge input closed, shutting down")
		}
	}

	// Deferred Close() calls run in reverse order:
	// bridge, API, shadow listener, MQTT, InfluxDB, database.

	log.Info("Gray Logic Edge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_EDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_EDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path)
	return db, nil
}

// coreOptions maps configuration onto mqttcore options.
func coreOptions(cfg *config.Config, log *logging.Logger) (mqttcore.Options, error) {
	m := cfg.MQTT
	policy, err := mqttcore.ParseDropPolicy(m.OfflineQueue.DropPolicy)
	if err != nil {
		return mqttcore.Options{}, fmt.Errorf("mqtt offline queue: %w", err)
	}

	opts := mqttcore.DefaultOptions(cfg.Device.ID)
	opts.Broker = brokerConfig(m.Broker)
	opts.KeepAlive = m.KeepAlive
	opts.ConnectDisconnectTimeout = m.ConnectDisconnectTimeout
	opts.OperationTimeout = m.OperationTimeout
	opts.DrainingInterval = m.DrainingInterval
	opts.QueueSize = m.OfflineQueue.Size
	opts.DropPolicy = policy
	opts.BaseReconnect = m.Backoff.Base
	opts.MaxReconnect = m.Backoff.Max
	opts.MinStableConnect = m.Backoff.MinStable
	opts.AutoReconnect = m.AutoReconnect
	opts.Logger = log
	return opts, nil
}

func brokerConfig(b config.MQTTBrokerConfig) mqttcore.BrokerConfig {
	return mqttcore.BrokerConfig{
		Host:      b.Host,
		Port:      b.Port,
		CAFile:    b.CAFile,
		CertFile:  b.CertFile,
		KeyFile:   b.KeyFile,
		Websocket: b.Websocket,
	}
}

// connect opens the session, handing over to the reconnect loop when the
// first attempt fails and auto-reconnect is on. A failed first attempt is
// never fatal: publishes queue offline until the broker is reachable.
func connect(core *mqttcore.Core, cfg *config.Config, log *logging.Logger) {
	err := core.Connect(cfg.MQTT.KeepAlive)
	if err == nil {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", core.ClientID(),
		)
		return
	}
	if cfg.MQTT.AutoReconnect {
		log.Warn("MQTT connect failed, retrying in background", "error", err)
		core.StartAutoReconnect()
		return
	}
	log.Error("MQTT connect failed", "error", err)
}

// shadowRetryInterval is how often a listener that could not subscribe
// tries again.
const shadowRetryInterval = 2 * time.Second

// startShadow opens the shadow store for the configured thing and starts
// listening for shadow responses. Subscribing needs a live session, so a
// failed start is retried in the background until it succeeds. The returned
// function stops retrying and unsubscribes.
func startShadow(ctx context.Context, core *mqttcore.Core, repo shadow.Repository, cfg *config.Config, log *logging.Logger) (func(), error) {
	store, err := shadow.NewStore(ctx, repo, cfg.Device.ThingName, cfg.Shadow.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("opening shadow store: %w", err)
	}
	shadowLog := log.Component("shadow")
	listener := shadow.NewListener(core, store, 0, shadowLog)
	listener.SetOnNotify(func(n shadow.Notification) {
		shadowLog.Info("shadow response", "thing", n.Thing, "action", n.Action, "key", n.Key, "kind", n.Kind)
	})

	retryCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(shadowRetryInterval)
		defer ticker.Stop()
		for {
			err := listener.Start()
			if err == nil || errors.Is(err, shadow.ErrListenerStarted) {
				shadowLog.Info("shadow listener started", "thing", cfg.Device.ThingName, "persist", cfg.Shadow.Persist)
				return
			}
			shadowLog.Debug("shadow listener not started, retrying", "error", err)
			select {
			case <-retryCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
		log.Info("stopping shadow listener")
		if stopErr := listener.Stop(); stopErr != nil {
			log.Error("error stopping shadow listener", "error", stopErr)
		}
	}
	return stop, nil
}

// startBridge serves the line protocol on the serial device, or on
// stdin/stdout when none is configured. The returned channel yields the
// result of Serve; the stop function closes the bridge and its device.
func startBridge(ctx context.Context, core *mqttcore.Core, repo shadow.Repository, cfg *config.Config, log *logging.Logger) (<-chan error, func(), error) {
	b, err := bridge.New(bridge.Options{
		Session:       core,
		Shadows:       repo,
		HistoryLimit:  cfg.Shadow.HistoryLimit,
		ChunkSize:     cfg.Bridge.ChunkSize,
		AcceptTimeout: cfg.Bridge.AcceptTimeout,
		Logger:        log.Component("bridge"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	var r io.Reader = os.Stdin
	var w io.Writer = os.Stdout
	var device *os.File
	if cfg.Bridge.Device != "" {
		device, err = os.OpenFile(cfg.Bridge.Device, os.O_RDWR, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bridge device: %w", err)
		}
		r, w = device, device
	}

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(serveCtx, r, w)
	}()
	log.Info("bridge serving", "device", deviceName(cfg.Bridge.Device))

	var once sync.Once
	stop := func() {
		once.Do(func() {
			log.Info("stopping bridge")
			cancel()
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error closing bridge", "error", closeErr)
			}
			if device != nil {
				if closeErr := device.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
					log.Error("error closing bridge device", "error", closeErr)
				}
			}
		})
	}
	return done, stop, nil
}

func deviceName(path string) string {
	if path == "" {
		return "stdio"
	}
	return path
}

// healthCheck verifies the optional infrastructure connections.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
