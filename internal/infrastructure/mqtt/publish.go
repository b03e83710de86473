package mqtt

// Publish hands a message to paho without waiting for delivery.
//
// Returns:
//   - rc: 0 when accepted, rcNoConnection without a session, rcRequestFailed
//     when paho rejected the message outright
//   - id: adapter-assigned message identifier
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) (int, uint16) {
	client, _ := c.session()
	if client == nil {
		return rcNoConnection, 0
	}

	id := c.nextID()
	token := client.Publish(topic, qos, retain, payload)
	rc := immediateRC(token)
	if rc != rcSuccess {
		c.warn("MQTT publish rejected", "topic", topic, "rc", rc, "error", token.Error())
		return rc, id
	}

	if qos > 0 {
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				c.warn("MQTT publish not acknowledged", "topic", topic, "id", id, "error", err)
			}
		}()
	}
	return rc, id
}
