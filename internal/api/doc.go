// Package api implements the local HTTP API of a Gray Logic Edge device.
//
// Routes:
//
//	GET  /api/v1/health    liveness, independent of the broker
//	GET  /api/v1/status    session state, offline queue, subscriptions, backoff
//	GET  /api/v1/metrics   Go runtime and session counters
//	POST /api/v1/publish   {"topic","payload","qos","retain"} through the session
//
// A publish while disconnected is queued and answered 202. A full offline
// queue answers 503, bad arguments 400 and a broker rejection 502.
//
// When api.jwt_secret is set, POST routes require an HS256 bearer token
// with a subject claim.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
