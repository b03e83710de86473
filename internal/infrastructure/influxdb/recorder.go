package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-edge/internal/mqttcore"
)

// Measurement names.
const (
	MeasurementConnection = "mqtt_connection"
	MeasurementQueue      = "mqtt_queue"
)

// QueueSource reports the offline publish queue; *mqttcore.Core satisfies it.
type QueueSource interface {
	QueueLen() int
	DrainingComplete() bool
}

// RecordEvent writes one mqtt_connection point. It has the signature of
// mqttcore.Options.OnEvent and is installed there directly.
//
//	mqtt_connection,device_id=thermostat-01,event=connect code=0i,elapsed_ms=42i,queue_len=3i
func (c *Client) RecordEvent(ev mqttcore.Event) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"device_id": c.deviceID,
			"event":     string(ev.Type),
		},
		map[string]any{
			"code":       ev.Code,
			"elapsed_ms": ev.Elapsed.Milliseconds(),
			"queue_len":  ev.QueueLen,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// RecordQueue writes one mqtt_queue sample.
func (c *Client) RecordQueue(length int, drainingComplete bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementQueue,
		map[string]string{"device_id": c.deviceID},
		map[string]any{
			"length":   length,
			"draining": !drainingComplete,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// RunQueueSampler records src every QueueInterval until ctx is cancelled.
func (c *Client) RunQueueSampler(ctx context.Context, src QueueSource) {
	ticker := time.NewTicker(c.cfg.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RecordQueue(src.QueueLen(), src.DrainingComplete())
		}
	}
}
