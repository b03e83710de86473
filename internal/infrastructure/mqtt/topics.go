package mqtt

import "fmt"

// Topic prefixes used by the edge runtime.
const (
	// TopicPrefixEdge is the base for per-device edge topics.
	TopicPrefixEdge = "graylogic/edge"

	// TopicPrefixShadow is the base for AWS IoT device shadow topics.
	TopicPrefixShadow = "$aws/things"
)

// Shadow actions.
const (
	ShadowUpdate = "update"
	ShadowGet    = "get"
	ShadowDelete = "delete"
)

// Shadow response kinds.
const (
	ShadowAccepted = "accepted"
	ShadowRejected = "rejected"
	ShadowDelta    = "delta"
)

// StatusTopic returns the retained online/offline topic for a device.
//
// Example: graylogic/edge/thermostat-01/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixEdge, clientID)
}

// ShadowTopic returns the request topic for a shadow action.
//
// Example: $aws/things/thermostat-01/shadow/update
func ShadowTopic(thingName, action string) string {
	return fmt.Sprintf("%s/%s/shadow/%s", TopicPrefixShadow, thingName, action)
}

// ShadowResponseTopic returns the response topic for a shadow action.
//
// Example: $aws/things/thermostat-01/shadow/update/accepted
func ShadowResponseTopic(thingName, action, kind string) string {
	return ShadowTopic(thingName, action) + "/" + kind
}

// ShadowDeltaTopic returns the topic carrying desired/reported differences.
//
// Example: $aws/things/thermostat-01/shadow/update/delta
func ShadowDeltaTopic(thingName string) string {
	return ShadowResponseTopic(thingName, ShadowUpdate, ShadowDelta)
}
