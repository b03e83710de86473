// Package mqttcore provides the connection-management layer of Gray Logic Edge.
//
// It sits on top of an asynchronous, callback-driven MQTT wire client and
// turns it into synchronous, timeout-bounded operations:
//   - Connect/Disconnect with bounded waits for the broker's answer
//   - Publish with offline queueing while disconnected or draining
//   - Subscribe/Unsubscribe with bounded waits for SUBACK/UNSUBACK
//   - Resubscription and queue draining after every (re)connect
//   - Automatic reconnect with progressive backoff
//
// # Architecture
//
//	callers ──► Core ──► WireClient (paho adapter)
//	             │  ▲
//	             │  └── Callbacks (connect, disconnect, acks, messages)
//	             ├── OfflineQueue
//	             ├── Backoff
//	             └── WaitForSignal
//
// After a successful connect the connect callback starts a resubscribe
// worker. Once every resubscribe acknowledgement has arrived (or straight
// away when nothing was subscribed) a draining worker replays queued
// publishes in their original order, one per draining interval. Until the
// drain finishes, new publishes keep going to the queue so ordering holds.
//
// # Timeouts
//
// Every wait is bounded by wall-clock time. A zero timeout means "check
// once, do not wait", never "wait forever".
//
// # Usage
//
//	opts := mqttcore.DefaultOptions("thermostat-01")
//	opts.Broker = mqttcore.BrokerConfig{Host: "broker.local", Port: 8883}
//	core, err := mqttcore.New(wire, opts)
//	if err != nil {
//	    return err
//	}
//	defer core.Close()
//
//	if err := core.Connect(60 * time.Second); err != nil {
//	    return err
//	}
//	err = core.Subscribe("devices/thermostat-01/cmd", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqttcore
