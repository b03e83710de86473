// Package mqtt is the paho.mqtt.golang transport behind mqttcore.
//
// Client implements mqttcore.WireClient. Every operation returns as soon as
// paho has the request; CONNACK, SUBACK, UNSUBACK and disconnect results
// come back through mqttcore.Callbacks from paho's goroutines.
//
// paho's auto-reconnect is disabled. Reconnection, resubscription and the
// offline publish queue live in mqttcore, which builds a fresh connection
// through ConnectAsync each time.
//
// Transports:
//   - tcp://host:port when no CA file is configured
//   - ssl://host:port with CA, client certificate and key (mutual TLS)
//   - wss://host:port/mqtt when Websocket is set
//
// Topics:
//
//	graylogic/edge/{client_id}/status             retained online/offline + LWT
//	graylogic/edge/{client_id}/telemetry          device readings
//	$aws/things/{thing}/shadow/{action}           shadow requests
//	$aws/things/{thing}/shadow/{action}/{kind}    accepted, rejected, delta
//
// Usage:
//
//	wire := mqtt.New(cfg.MQTT, cfg.Device.ID)
//	wire.SetLogger(logger)
//	core, err := mqttcore.New(wire, opts)
package mqtt
