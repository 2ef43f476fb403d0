package mqtt

import "errors"

// Domain errors for the MQTT bridge package.
var (
	// ErrInvalidCommand is returned when a command payload cannot be
	// decoded or carries no usable value.
	ErrInvalidCommand = errors.New("mqtt bridge: invalid command payload")

	// ErrUnknownCommandTopic is returned when a message arrives on a
	// topic that does not map to a telemetry path.
	ErrUnknownCommandTopic = errors.New("mqtt bridge: not a command topic")

	// ErrCommandQueueFull is returned when commands arrive faster than
	// the upstream accepts them.
	ErrCommandQueueFull = errors.New("mqtt bridge: command queue full")

	// ErrBrokerUnavailable is returned by health checks when the broker
	// connection is down.
	ErrBrokerUnavailable = errors.New("mqtt bridge: broker unavailable")
)
