package mqtt

import pahomqtt "github.com/eclipse/paho.mqtt.golang"

// Subscribe sends a SUBSCRIBE and reports the SUBACK asynchronously through
// Callbacks.OnSubscribeAck. A SUBACK that never arrives because the request
// failed is reported as granted 0x80.
//
// Messages are not attached to this call; they flow through the route table
// populated by RegisterMessageCallback.
func (c *Client) Subscribe(topic string, qos byte) (int, uint16) {
	client, gen := c.session()
	if client == nil {
		return rcNoConnection, 0
	}

	id := c.nextID()
	token := client.Subscribe(topic, qos, nil)
	if rc := immediateRC(token); rc != rcSuccess {
		return rc, id
	}

	go func() {
		token.Wait()
		if !c.current(gen) {
			return
		}

		granted := byte(grantedFailure)
		if err := token.Error(); err != nil {
			c.warn("MQTT subscribe failed", "topic", topic, "error", err)
		} else if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			if code, found := st.Result()[topic]; found {
				granted = code
			}
		}

		if cb := c.getCallbacks(); cb.OnSubscribeAck != nil {
			cb.OnSubscribeAck(id, []byte{granted})
		}
	}()
	return rcSuccess, id
}

// Unsubscribe sends an UNSUBSCRIBE and reports the UNSUBACK asynchronously
// through Callbacks.OnUnsubscribeAck. A failed request produces no ack.
func (c *Client) Unsubscribe(topic string) (int, uint16) {
	client, gen := c.session()
	if client == nil {
		return rcNoConnection, 0
	}

	id := c.nextID()
	token := client.Unsubscribe(topic)
	if rc := immediateRC(token); rc != rcSuccess {
		return rc, id
	}

	go func() {
		token.Wait()
		if !c.current(gen) {
			return
		}
		if err := token.Error(); err != nil {
			c.warn("MQTT unsubscribe failed", "topic", topic, "error", err)
			return
		}
		if cb := c.getCallbacks(); cb.OnUnsubscribeAck != nil {
			cb.OnUnsubscribeAck(id)
		}
	}()
	return rcSuccess, id
}

// RegisterMessageCallback routes messages matching filter to fn,
// replacing any callback already registered for the same filter.
func (c *Client) RegisterMessageCallback(filter string, fn func(topic string, payload []byte)) {
	c.routes.add(filter, fn)
}

// RemoveMessageCallback drops the callback for filter.
func (c *Client) RemoveMessageCallback(filter string) {
	c.routes.remove(filter)
}
