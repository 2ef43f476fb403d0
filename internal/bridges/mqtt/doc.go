// Package mqtt republishes resolved readings onto an MQTT broker and
// accepts command requests from it.
//
// This package is the local-bus face of the panel: displays, loggers
// and automations that speak MQTT get retained, display-converted
// readings without touching the upstream server, and can write values
// back through the same broker.
//
// # Architecture
//
//	                  ┌──────────────┐
//	 readings ───────►│              │──► pelorus/telemetry/<path>  (retained)
//	 rule changes ───►│  MQTT Bridge │──► pelorus/meta/<path>       (retained)
//	 upstream state ─►│  (this pkg)  │──► pelorus/upstream/status   (retained)
//	                  │              │
//	                  │              │◄── pelorus/command/<path>
//	                  └──────┬───────┘
//	                         │ SI writes
//	                         ▼
//	                  upstream bridge
//
// Dots in telemetry paths become topic levels: the reading for
// navigation.speedOverGround is retained on
// pelorus/telemetry/navigation/speedOverGround.
//
// # Key Responsibilities
//
//   - Republish each resolved reading as retained JSON on its path topic
//   - Suppress republishes while a path's rendered state is unchanged
//   - Republish conversion rules on the meta topics as they change
//   - Publish upstream connection state changes
//   - Accept {"value": x, "display": bool} command payloads, convert
//     display-unit values to SI, and forward them upstream in order
//
// # Command Payloads
//
// A command arrives on pelorus/command/<path> as a JSON object:
//
//	{"value": 12.5}                  SI value, forwarded as-is
//	{"value": 6.5, "display": true}  display units, converted via the
//	                                 path's inverse formula first
//
// Commands are validated on the delivery goroutine and executed by a
// single worker, so writes reach the upstream in arrival order. There
// is no acknowledgement topic; outcomes go to the log and the audit
// trail.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mqtt
