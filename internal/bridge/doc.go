// Package bridge serves the serial line protocol that lets a
// microcontroller drive the edge MQTT session.
//
// Every request is a frame: a line holding the number N of lines that
// follow, then N lines. The first of those names the command and the rest
// are its parameters, one per line, so payloads may contain spaces:
//
//	4
//	p
//	sensors/temp
//	{"temp":21.5}
//	1
//	0
//
// Each frame is answered with one response line, split into pieces of at
// most ChunkSize bytes. Success is "<CODE> T"; failures are
// "<CODE><n>F: <detail>" where 1 means the session is not set up, 2 a bad
// parameter and F an unexpected error. Unknown commands answer
// "X F: Unknown command.".
//
// Commands:
//
//	i  client_id clean_session version   confirm setup            I T / I F
//	g  host port ca key cert             broker endpoint          G T
//	c  keepalive                         connect                  C T, C3F-C6F
//	d                                    disconnect               D T, D2F, D3F
//	p  topic payload qos retain          publish                  P T, P3F, P4F
//	s  topic qos slot                    subscribe into slot      S T, S3F, S4F
//	u  topic                             unsubscribe              U <slot> / U T
//	z                                    lock pending messages    Z T
//	y                                    next message chunk       Y <slot> <more> <data> / Y F
//	di seconds                           draining interval        DI T
//	pq size drop                         offline queue            PQ T
//	bf base max min_stable               reconnect backoff        BF T
//	cdt seconds                          connect timeout          CDT T
//	mot seconds                          operation timeout        MOT T
//	si thing persistent                  start shadow listener    SI T / SI F
//	s_rd thing slot                      delta into slot          S_RD T
//	s_ud thing                           release delta slot       S_UD <slot> / S_UD T
//	sg thing slot timeout                shadow get               SG T
//	su thing document slot timeout       shadow update            SU T, SU3F
//	sd thing slot timeout                shadow delete            SD T
//	j  json_key path is_first            value from document      J <more> <data> / J F
//	~                                    reset the session        (no response)
//
// Shadow responses are stored in a shadow.Store and the slot waiting on the
// request receives the document key (JSON-<n>, or JSON-X on timeout) as its
// message. The client then reads values out of the document with j.
package bridge
