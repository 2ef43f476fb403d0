// Package signalk implements the upstream SignalK bridge for Pelorus.
//
// This package maintains the WebSocket stream to a SignalK server, feeds
// unit metadata and telemetry values into the in-memory stores, and sends
// PUT requests back upstream when an operator changes a value.
//
// # Architecture
//
// The bridge sits between the SignalK server and the panel's stores:
//
//	┌─────────────────┐    WS     ┌─────────────────┐
//	│    SignalK      │◄─────────►│  SignalK Bridge │──► units.Store
//	│    Server       │   HTTP    │   (this pkg)    │──► telemetry.Cache
//	└─────────────────┘           └─────────────────┘──► reading sinks
//
// # Key Responsibilities
//
//   - Discover the server's WS and HTTP endpoints via GET /signalk
//   - Maintain the delta stream with automatic reconnection
//   - Apply meta deltas to the conversion rule store
//   - Cache value deltas with receipt timestamps
//   - Fetch bulk conversion metadata when a connection is established
//   - Clear both stores before a new connection's deltas apply
//   - Send PUT requests and track their responses by request ID
//   - Fan resolved readings out to registered sinks
//
// # Ordering
//
// Deltas are dispatched synchronously on the stream read goroutine, so
// samples for a path always enter the cache in arrival order. Sinks run
// on that same goroutine and must hand off any slow work internally.
//
// # Delta Format
//
// The server speaks SignalK delta JSON. A value update looks like:
//
//	{
//	  "context": "vessels.self",
//	  "updates": [{
//	    "$source": "gps.0",
//	    "values": [{"path": "navigation.speedOverGround", "value": 5.14}]
//	  }]
//	}
//
// All values on the wire are SI; conversion to display units happens in
// the resolver, never here.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - SignalK specification: https://signalk.org/specification/latest/
//   - Delta format: https://signalk.org/specification/latest/doc/data_model.html
package signalk
