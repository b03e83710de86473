// Package influxdb records MQTT connection telemetry to InfluxDB v2.
//
// Two measurements are written, both tagged with device_id:
//
//	mqtt_connection  event=connect|connect_failed|disconnect|drained
//	                 fields: code, elapsed_ms, queue_len
//	mqtt_queue       fields: length, draining
//
// Connection points come from mqttcore lifecycle events; queue points are
// sampled on a ticker.
//
// # Usage
//
//	telemetry, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer telemetry.Close()
//
//	opts.OnEvent = telemetry.RecordEvent
//	go telemetry.RunQueueSampler(ctx, core)
//
// # Error Handling
//
// Writes are non-blocking; batch errors reach the SetOnError callback
// wrapped in ErrWriteFailed. Connection and health check errors are
// returned directly.
package influxdb
