// Package logging provides structured logging for Gray Logic Edge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the runtime.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	core, err := mqttcore.New(wire, mqttcore.Options{
//	    ClientID: cfg.Device.ID,
//	    Logger:   logger.Component("mqttcore"),
//	})
//
// # Security
//
// Never log broker passwords, private key material or API secrets.
package logging
