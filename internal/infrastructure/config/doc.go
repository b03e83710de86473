// Package config handles loading and validating Gray Logic Edge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYLOGIC_EDGE_*)
//   - Validation of required fields and timing relationships
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords, API secrets and InfluxDB tokens should be set via
//     environment variables
//   - Device private keys are referenced by path and never loaded here
//
// Timeouts:
//   - Durations are YAML duration strings ("30s", "500ms")
//   - A zero mqtt.connect_disconnect_timeout or mqtt.operation_timeout
//     means "check once, do not wait", not "wait forever"
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
