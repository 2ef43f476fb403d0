package signalk

import "errors"

// Domain errors for the SignalK bridge package.
var (
	// ErrNotConnected is returned when an operation requires a live stream
	// but the client is not connected to the server.
	ErrNotConnected = errors.New("signalk: not connected to server")

	// ErrConnectionFailed is returned when the stream connection fails.
	ErrConnectionFailed = errors.New("signalk: connection to server failed")

	// ErrDiscoveryFailed is returned when the REST discovery document
	// cannot be fetched or parsed.
	ErrDiscoveryFailed = errors.New("signalk: endpoint discovery failed")

	// ErrInvalidDelta is returned when an inbound frame is not a valid
	// delta message.
	ErrInvalidDelta = errors.New("signalk: invalid delta message")

	// ErrRequestTimeout is returned when a PUT request receives no
	// response within the configured window.
	ErrRequestTimeout = errors.New("signalk: request timed out")

	// ErrPutRejected is returned when the server answers a PUT with a
	// failure state.
	ErrPutRejected = errors.New("signalk: put request rejected")
)
